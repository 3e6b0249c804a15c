package gatewayhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/api"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/interfaces"
)

// Client talks to a gateway server. Mutating requests are signed with Key,
// which makes the key's address the caller of every action.
type Client struct {
	ServerAddr string
	Key        *ecdsa.PrivateKey
	Client     *http.Client

	// Now overrides the clock used for request timestamps.
	Now func() time.Time
}

// NewClient returns a client for the server at addr acting as key.
func NewClient(addr string, key *ecdsa.PrivateKey) *Client {
	return &Client{ServerAddr: addr, Key: key, Client: http.DefaultClient}
}

// ClientError is returned for non-2xx responses.
type ClientError struct {
	StatusCode int
	Response   api.ErrorResponse
}

func (e *ClientError) Error() string {
	if e.Response.Reason != "" {
		return fmt.Sprintf("gateway returned %d: %s (%s)", e.StatusCode, e.Response.Error, e.Response.Reason)
	}
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Response.Error)
}

func (c *Client) do(ctx context.Context, method, path string, value *big.Int, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("could not encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("could not initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if method != http.MethodGet && c.Key != nil {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		ts := now().Unix()
		nonce := uuid.NewString()
		sig, err := cryptoutils.Sign(cryptoutils.RequestPayload(method, req.URL.Path, ts, nonce, value, payload), c.Key)
		if err != nil {
			return err
		}
		req.Header.Set(api.TimestampHeader, strconv.FormatInt(ts, 10))
		req.Header.Set(api.NonceHeader, nonce)
		req.Header.Set(api.SignatureHeader, hexutil.Encode(sig))
	}
	if value != nil && value.Sign() != 0 {
		req.Header.Set(api.ValueHeader, value.String())
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not request gateway: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("could not read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		clientErr := &ClientError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, &clientErr.Response); err != nil {
			clientErr.Response.Error = string(respBody)
		}
		return clientErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("could not parse gateway response: %w", err)
		}
	}
	return nil
}

func (c *Client) action(ctx context.Context, method, path string, value *big.Int, body any) (*api.ReceiptResponse, error) {
	var receipt api.ReceiptResponse
	if err := c.do(ctx, method, path, value, body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	var status api.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) Initialize(ctx context.Context, owner, signer common.Address) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/initialize", nil, api.InitializeRequest{Owner: owner, Signer: signer})
}

func (c *Client) Upgrade(ctx context.Context) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/upgrade", nil, nil)
}

func (c *Client) Templates(ctx context.Context) ([]api.TemplateInfo, error) {
	var templates []api.TemplateInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/templates", nil, nil, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

func (c *Client) RegisterTemplate(ctx context.Context, impl common.Address) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/templates", nil, api.RegisterTemplateRequest{Implementation: impl})
}

// Deploy creates an instance of name. A nil signature pays with value; a
// non-empty version pins the signed version.
func (c *Client) Deploy(ctx context.Context, name interfaces.TemplateName, initData, signature []byte, version string, value *big.Int) (*api.ReceiptResponse, error) {
	path := "/api/v1/templates/" + url.PathEscape(name.String()) + "/deploy"
	return c.action(ctx, http.MethodPost, path, value, api.DeployRequest{InitData: initData, Signature: signature, Version: version})
}

func (c *Client) Instance(ctx context.Context, instance common.Address) (*api.InstanceInfo, error) {
	var info api.InstanceInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/instances/"+instance.Hex(), nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Call forwards data to instance. A nil signature pays the call fee out of value.
func (c *Client) Call(ctx context.Context, instance common.Address, data, signature []byte, value *big.Int) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/instances/"+instance.Hex()+"/call", value, api.CallRequest{Data: data, Signature: signature})
}

func (c *Client) Query(ctx context.Context, instance common.Address, data []byte) ([]byte, error) {
	var resp api.QueryResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/instances/"+instance.Hex()+"/query", nil, api.QueryRequest{Data: data}, &resp); err != nil {
		return nil, err
	}
	return resp.Return, nil
}

func (c *Client) SetWhitelisted(ctx context.Context, instance common.Address, allowed bool) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPut, "/api/v1/instances/"+instance.Hex()+"/whitelist", nil, api.WhitelistRequest{Allowed: allowed})
}

func (c *Client) SetOperator(ctx context.Context, instance, account common.Address, allowed bool) (*api.ReceiptResponse, error) {
	path := "/api/v1/instances/" + instance.Hex() + "/operators/" + account.Hex()
	return c.action(ctx, http.MethodPut, path, nil, api.OperatorRequest{Allowed: allowed})
}

func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	var resp api.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+account.Hex(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Balance, nil
}

func (c *Client) Fund(ctx context.Context, account common.Address, amount *big.Int) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/accounts/"+account.Hex()+"/fund", nil, api.FundRequest{Amount: amount})
}

func (c *Client) Fees(ctx context.Context) (*api.FeesResponse, error) {
	var fees api.FeesResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/fees", nil, nil, &fees); err != nil {
		return nil, err
	}
	return &fees, nil
}

func (c *Client) SetDeploymentFee(ctx context.Context, amount *big.Int) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPut, "/api/v1/fees/deployment", nil, api.FeeRequest{Amount: amount})
}

func (c *Client) SetCallFee(ctx context.Context, amount *big.Int) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPut, "/api/v1/fees/call", nil, api.FeeRequest{Amount: amount})
}

func (c *Client) WithdrawFees(ctx context.Context, to common.Address) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/fees/withdraw", nil, api.WithdrawRequest{To: to})
}

func (c *Client) GrantRole(ctx context.Context, role common.Hash, account common.Address) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/roles/"+role.Hex()+"/grant", nil, api.RoleRequest{Account: account})
}

func (c *Client) RevokeRole(ctx context.Context, role common.Hash, account common.Address) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/roles/"+role.Hex()+"/revoke", nil, api.RoleRequest{Account: account})
}

func (c *Client) RenounceRole(ctx context.Context, role common.Hash) (*api.ReceiptResponse, error) {
	return c.action(ctx, http.MethodPost, "/api/v1/roles/"+role.Hex()+"/renounce", nil, nil)
}

func (c *Client) HasRole(ctx context.Context, role common.Hash, account common.Address) (bool, error) {
	var resp api.RoleResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/roles/"+access.RoleName(role)+"/"+account.Hex(), nil, nil, &resp); err != nil {
		return false, err
	}
	return resp.Member, nil
}

// Records lists records from the server's record log.
func (c *Client) Records(ctx context.Context, filter interfaces.RecordFilter) ([]interfaces.Record, error) {
	query := url.Values{}
	if filter.Type != "" {
		query.Set("type", string(filter.Type))
	}
	if filter.Instance != nil {
		query.Set("instance", filter.Instance.Hex())
	}
	if filter.AfterSeq > 0 {
		query.Set("after", strconv.FormatUint(filter.AfterSeq, 10))
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	path := "/api/v1/records"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var records []interfaces.Record
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) Checkpoint(ctx context.Context) (*api.CheckpointResponse, error) {
	var resp api.CheckpointResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/checkpoints", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
