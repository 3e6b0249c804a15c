package gatewayhandler

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/api"
	"github.com/ruteri/template-gateway/cryptoutils"
	"github.com/ruteri/template-gateway/eventlog"
	"github.com/ruteri/template-gateway/gateway"
	"github.com/ruteri/template-gateway/host"
	"github.com/ruteri/template-gateway/interfaces"
	"github.com/ruteri/template-gateway/state"
	"github.com/ruteri/template-gateway/storage"
	"github.com/ruteri/template-gateway/templates/widget"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server    *httptest.Server
	gateway   *gateway.Gateway
	handler   *Handler
	widgetV1  common.Address
	widgetV11 common.Address

	ownerKey  *ecdsa.PrivateKey
	signerKey *ecdsa.PrivateKey
	userKey   *ecdsa.PrivateKey

	owner  *Client
	signer *Client
	user   *Client
}

// userBalance is what the user account holds in a fresh environment.
var userBalance = big.NewInt(1_000_000)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

// setupTestEnvironment serves a fresh gateway with a record log and a file
// checkpoint backend. Both widget versions are deployed but not registered.
func setupTestEnvironment(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	records, err := eventlog.Open(filepath.Join(t.TempDir(), "records.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { records.Close() })

	checkpoints, err := storage.NewFileBackend(t.TempDir(), logger)
	require.NoError(t, err)

	h := host.New(host.DefaultDeployer, host.DefaultCosts, logger)
	env := &testEnv{
		widgetV1:  h.Deploy(widget.New(widget.V1_0_0)),
		widgetV11: h.Deploy(widget.New(widget.V1_1_0)),
		ownerKey:  newKey(t),
		signerKey: newKey(t),
		userKey:   newKey(t),
	}
	world := state.NewWorld()
	world.Credit(address(env.userKey), userBalance)
	env.gateway = gateway.New(gateway.Config{
		Log:   logger,
		Sinks: []interfaces.RecordSink{records},
	}, state.NewStore(world), h)

	cfg := Config{Records: records, Checkpoints: checkpoints, Log: logger}
	if configure != nil {
		configure(&cfg)
	}
	env.handler = NewHandler(env.gateway, cfg)

	mux := chi.NewRouter()
	env.handler.RegisterRoutes(mux)
	env.server = httptest.NewServer(mux)
	t.Cleanup(env.server.Close)

	env.owner = NewClient(env.server.URL, env.ownerKey)
	env.signer = NewClient(env.server.URL, env.signerKey)
	env.user = NewClient(env.server.URL, env.userKey)
	return env
}

// setupReadyEnvironment also initializes the gateway and registers widget 1.0.0.
func setupReadyEnvironment(t *testing.T) *testEnv {
	t.Helper()
	env := setupTestEnvironment(t, nil)
	ctx := context.Background()
	_, err := env.user.Initialize(ctx, address(env.ownerKey), address(env.signerKey))
	require.NoError(t, err)
	_, err = env.owner.RegisterTemplate(ctx, env.widgetV1)
	require.NoError(t, err)
	return env
}

func (env *testEnv) deployWidget(t *testing.T, label string) common.Address {
	t.Helper()
	receipt, err := env.user.Deploy(context.Background(), widget.Name, widget.MustPack("initialize", label), nil, "", nil)
	require.NoError(t, err)
	require.NotNil(t, receipt.Instance)
	return *receipt.Instance
}

func requireStatus(t *testing.T, err error, status int) *ClientError {
	t.Helper()
	var clientErr *ClientError
	require.ErrorAs(t, err, &clientErr)
	require.Equal(t, status, clientErr.StatusCode, clientErr.Response.Error)
	return clientErr
}

// signedRequest builds a request signed by key at ts, without attached value.
func signedRequest(t *testing.T, method, url string, body []byte, key *ecdsa.PrivateKey, ts time.Time) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	nonce := uuid.NewString()
	sig, err := cryptoutils.Sign(cryptoutils.RequestPayload(method, req.URL.Path, ts.Unix(), nonce, nil, body), key)
	require.NoError(t, err)
	req.Header.Set(api.TimestampHeader, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(api.NonceHeader, nonce)
	req.Header.Set(api.SignatureHeader, hexutil.Encode(sig))
	return req
}

func (env *testEnv) serve(req *http.Request) *httptest.ResponseRecorder {
	mux := chi.NewRouter()
	env.handler.RegisterRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestStatus(t *testing.T) {
	env := setupTestEnvironment(t, nil)
	ctx := context.Background()

	status, err := env.user.Status(ctx)
	require.NoError(t, err)
	assert.False(t, status.Initialized)
	assert.Equal(t, env.gateway.Address(), status.Address)

	_, err = env.user.Initialize(ctx, address(env.ownerKey), address(env.signerKey))
	require.NoError(t, err)

	status, err = env.user.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Initialized)
	assert.Equal(t, env.gateway.CodeVersion(), status.CodeVersion)

	_, err = env.user.Initialize(ctx, address(env.userKey), address(env.userKey))
	requireStatus(t, err, http.StatusConflict)
}

func TestAuthentication(t *testing.T) {
	body, err := json.Marshal(api.RegisterTemplateRequest{})
	require.NoError(t, err)

	testCases := []struct {
		name   string
		req    func(env *testEnv) *http.Request
		status int
	}{
		{
			name: "unsigned",
			req: func(env *testEnv) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewReader(body))
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "stale timestamp",
			req: func(env *testEnv) *http.Request {
				return signedRequest(t, http.MethodPost, "/api/v1/templates", body, env.ownerKey, time.Now().Add(-time.Hour))
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "malformed timestamp",
			req: func(env *testEnv) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/v1/templates", body, env.ownerKey, time.Now())
				req.Header.Set(api.TimestampHeader, "yesterday")
				return req
			},
			status: http.StatusBadRequest,
		},
		{
			name: "missing nonce",
			req: func(env *testEnv) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/v1/templates", body, env.ownerKey, time.Now())
				req.Header.Del(api.NonceHeader)
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "oversized nonce",
			req: func(env *testEnv) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/v1/templates", body, env.ownerKey, time.Now())
				req.Header.Set(api.NonceHeader, strings.Repeat("n", maxNonceLength+1))
				return req
			},
			status: http.StatusBadRequest,
		},
		{
			name: "malformed signature",
			req: func(env *testEnv) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/v1/templates", body, env.ownerKey, time.Now())
				req.Header.Set(api.SignatureHeader, "0x1234")
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "signature over a different body",
			req: func(env *testEnv) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/v1/templates", []byte(`{}`), env.ownerKey, time.Now())
				req.Body = io.NopCloser(bytes.NewReader(body))
				return req
			},
			// Recovers some other account, which is not an admin.
			status: http.StatusForbidden,
		},
		{
			name: "untrusted caller header",
			req: func(env *testEnv) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewReader(body))
				req.Header.Set(api.CallerHeader, address(env.ownerKey).Hex())
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "invalid value",
			req: func(env *testEnv) *http.Request {
				req := signedRequest(t, http.MethodPost, "/api/v1/templates", body, env.ownerKey, time.Now())
				req.Header.Set(api.ValueHeader, "lots")
				return req
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := setupReadyEnvironment(t)
			w := env.serve(tc.req(env))
			assert.Equal(t, tc.status, w.Code, w.Body.String())

			var resp api.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAuthentication_ReplayRejected(t *testing.T) {
	env := setupReadyEnvironment(t)
	body, err := json.Marshal(api.DeployRequest{InitData: widget.MustPack("initialize", "once")})
	require.NoError(t, err)

	req := signedRequest(t, http.MethodPost, "/api/v1/templates/Widget/deploy", body, env.userKey, time.Now())
	replay := req.Clone(context.Background())
	replay.Body = io.NopCloser(bytes.NewReader(body))

	w := env.serve(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.serve(replay)
	assert.Equal(t, http.StatusUnauthorized, w.Code, w.Body.String())
	assert.Len(t, env.gateway.Instances(), 1)

	// A fresh nonce makes the identical action acceptable again.
	w = env.serve(signedRequest(t, http.MethodPost, "/api/v1/templates/Widget/deploy", body, env.userKey, time.Now()))
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, env.gateway.Instances(), 2)
}

func TestAuthentication_ValueIsSigned(t *testing.T) {
	env := setupReadyEnvironment(t)
	_, err := env.owner.SetDeploymentFee(context.Background(), big.NewInt(100))
	require.NoError(t, err)

	body, err := json.Marshal(api.DeployRequest{InitData: widget.MustPack("initialize", "forged")})
	require.NoError(t, err)
	req := signedRequest(t, http.MethodPost, "/api/v1/templates/Widget/deploy", body, env.userKey, time.Now())
	req.Header.Set(api.ValueHeader, "1000000")

	// The signature no longer covers the request, so the recovered caller is
	// an unfunded account that cannot attach the value.
	w := env.serve(req)
	assert.Equal(t, http.StatusPaymentRequired, w.Code, w.Body.String())
	assert.Empty(t, env.gateway.Instances())
	assert.Zero(t, env.gateway.BalanceOf(env.gateway.Address()).Sign())
	assert.Equal(t, userBalance, env.gateway.BalanceOf(address(env.userKey)))
}

func TestFunding(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()
	newcomerKey := newKey(t)
	newcomer := NewClient(env.server.URL, newcomerKey)

	_, err := env.owner.SetDeploymentFee(ctx, big.NewInt(100))
	require.NoError(t, err)

	_, err = newcomer.Deploy(ctx, widget.Name, widget.MustPack("initialize", "broke"), nil, "", big.NewInt(100))
	clientErr := requireStatus(t, err, http.StatusPaymentRequired)
	assert.Equal(t, "payment", clientErr.Response.Kind)

	_, err = env.user.Fund(ctx, address(newcomerKey), big.NewInt(500))
	requireStatus(t, err, http.StatusForbidden)
	_, err = env.owner.Fund(ctx, address(newcomerKey), big.NewInt(0))
	requireStatus(t, err, http.StatusBadRequest)

	receipt, err := env.owner.Fund(ctx, address(newcomerKey), big.NewInt(500))
	require.NoError(t, err)
	require.Len(t, receipt.Records, 1)
	assert.Equal(t, interfaces.AccountFunded, receipt.Records[0].Type)

	_, err = newcomer.Deploy(ctx, widget.Name, widget.MustPack("initialize", "funded"), nil, "", big.NewInt(100))
	require.NoError(t, err)

	balance, err := newcomer.Balance(ctx, address(newcomerKey))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(400), balance)

	fees, err := newcomer.Fees(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(100), fees.Collected)
}

func TestAuthentication_TrustedCallerHeader(t *testing.T) {
	env := setupTestEnvironment(t, func(cfg *Config) { cfg.TrustCallerHeader = true })
	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	_, err := env.user.Initialize(context.Background(), owner, address(env.signerKey))
	require.NoError(t, err)

	body, err := json.Marshal(api.RegisterTemplateRequest{Implementation: env.widgetV1})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewReader(body))
	req.Header.Set(api.CallerHeader, owner.Hex())

	w := env.serve(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []interfaces.TemplateName{widget.Name}, env.gateway.Templates())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewReader(body))
	req.Header.Set(api.CallerHeader, "not-an-address")
	w = env.serve(req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTemplates(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()

	_, err := env.user.RegisterTemplate(ctx, env.widgetV11)
	requireStatus(t, err, http.StatusForbidden)

	receipt, err := env.owner.RegisterTemplate(ctx, env.widgetV11)
	require.NoError(t, err)
	require.Len(t, receipt.Records, 1)
	assert.Equal(t, interfaces.TemplateAdded, receipt.Records[0].Type)

	_, err = env.owner.RegisterTemplate(ctx, env.widgetV11)
	requireStatus(t, err, http.StatusConflict)

	templates, err := env.user.Templates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, widget.Name, templates[0].Name)
	assert.Equal(t, "1.1.0", templates[0].Latest.Version)
	assert.Equal(t, env.widgetV11, templates[0].Latest.Implementation)
	assert.Len(t, templates[0].Versions, 2)

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/templates/Missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeployAndCall(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()

	_, err := env.owner.SetCallFee(ctx, big.NewInt(10))
	require.NoError(t, err)

	instance := env.deployWidget(t, "http")

	info, err := env.user.Instance(ctx, instance)
	require.NoError(t, err)
	assert.Equal(t, widget.Name, info.Name)
	assert.Equal(t, "1.0.0", info.Version)
	assert.True(t, info.Whitelisted)
	assert.True(t, info.Initialized)

	_, err = env.user.Call(ctx, instance, widget.MustPack("increment", big.NewInt(3)), nil, big.NewInt(9))
	clientErr := requireStatus(t, err, http.StatusPaymentRequired)
	assert.Equal(t, "payment", clientErr.Response.Kind)

	receipt, err := env.user.Call(ctx, instance, widget.MustPack("increment", big.NewInt(3)), nil, big.NewInt(10))
	require.NoError(t, err)
	out, err := widget.Unpack("increment", receipt.Return)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3), out[0])

	ret, err := env.user.Query(ctx, instance, widget.MustPack("count"))
	require.NoError(t, err)
	out, err = widget.Unpack("count", ret)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3), out[0])

	// Only the deployer operates the instance.
	_, err = env.signer.Call(ctx, instance, widget.MustPack("increment", big.NewInt(1)), nil, big.NewInt(10))
	requireStatus(t, err, http.StatusForbidden)

	fees, err := env.user.Fees(ctx)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10), fees.Call)
	assert.Equal(t, big.NewInt(10), fees.Collected)
}

func TestDeployAndCall_Signed(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()
	caller := address(env.userKey)
	initData := widget.MustPack("initialize", "signed")

	sig, err := cryptoutils.Sign(cryptoutils.DeployVersionPayload(caller, widget.Name, widget.V1_0_0, initData), env.signerKey)
	require.NoError(t, err)

	_, err = env.user.Deploy(ctx, widget.Name, initData, nil, "1.0.0", nil)
	requireStatus(t, err, http.StatusBadRequest)

	receipt, err := env.user.Deploy(ctx, widget.Name, initData, sig, "1.0.0", nil)
	require.NoError(t, err)
	instance := *receipt.Instance

	data := widget.MustPack("increment", big.NewInt(5))
	sig, err = cryptoutils.Sign(cryptoutils.CallPayload(caller, instance, data), env.signerKey)
	require.NoError(t, err)
	_, err = env.user.Call(ctx, instance, data, sig, nil)
	require.NoError(t, err)

	// A signature from a non-signer is rejected.
	sig, err = cryptoutils.Sign(cryptoutils.CallPayload(caller, instance, data), env.userKey)
	require.NoError(t, err)
	_, err = env.user.Call(ctx, instance, data, sig, nil)
	requireStatus(t, err, http.StatusForbidden)
}

func TestCall_Revert(t *testing.T) {
	env := setupReadyEnvironment(t)
	instance := env.deployWidget(t, "revert")

	_, err := env.user.Call(context.Background(), instance, widget.MustPack("fail", "nope"), nil, nil)
	clientErr := requireStatus(t, err, http.StatusUnprocessableEntity)
	assert.Equal(t, "revert", clientErr.Response.Kind)
	assert.Equal(t, "nope", clientErr.Response.Reason)
	assert.Equal(t, hexutil.Bytes(interfaces.EncodeRevertReason("nope")), clientErr.Response.RevertData)
}

func TestWhitelistAndOperators(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()
	instance := env.deployWidget(t, "ops")
	data := widget.MustPack("increment", big.NewInt(1))

	_, err := env.user.SetWhitelisted(ctx, instance, false)
	requireStatus(t, err, http.StatusForbidden)
	_, err = env.owner.SetWhitelisted(ctx, instance, false)
	require.NoError(t, err)

	_, err = env.user.Call(ctx, instance, data, nil, nil)
	clientErr := requireStatus(t, err, http.StatusForbidden)
	assert.Equal(t, "dispatch", clientErr.Response.Kind)

	_, err = env.owner.SetWhitelisted(ctx, instance, true)
	require.NoError(t, err)

	signer := address(env.signerKey)
	_, err = env.user.SetOperator(ctx, instance, signer, true)
	require.NoError(t, err)

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/instances/"+instance.Hex()+"/operators/"+signer.Hex(), nil))
	require.Equal(t, http.StatusOK, w.Code)
	var resp api.OperatorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Operator)
	assert.Equal(t, access.OperatorRole(instance), resp.Role)

	_, err = env.signer.Call(ctx, instance, data, nil, nil)
	require.NoError(t, err)

	member, err := env.user.HasRole(ctx, access.OperatorRole(instance), signer)
	require.NoError(t, err)
	assert.True(t, member)

	w = env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/instances/not-an-address", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeesAndRoles(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()
	treasury := common.HexToAddress("0x0000000000000000000000000000000000007ea5")

	_, err := env.owner.SetDeploymentFee(ctx, big.NewInt(-1))
	requireStatus(t, err, http.StatusBadRequest)

	_, err = env.owner.SetDeploymentFee(ctx, big.NewInt(100))
	require.NoError(t, err)

	_, err = env.user.Deploy(ctx, widget.Name, widget.MustPack("initialize", "paid"), nil, "", big.NewInt(150))
	require.NoError(t, err)

	_, err = env.user.WithdrawFees(ctx, treasury)
	requireStatus(t, err, http.StatusForbidden)

	receipt, err := env.owner.WithdrawFees(ctx, treasury)
	require.NoError(t, err)
	require.Len(t, receipt.Records, 1)
	assert.Equal(t, big.NewInt(150), receipt.Records[0].Amount)
	assert.Equal(t, big.NewInt(150), env.gateway.BalanceOf(treasury))

	user := address(env.userKey)
	_, err = env.owner.GrantRole(ctx, access.SignerRole, user)
	require.NoError(t, err)
	member, err := env.owner.HasRole(ctx, access.SignerRole, user)
	require.NoError(t, err)
	assert.True(t, member)

	_, err = env.user.RenounceRole(ctx, access.SignerRole)
	require.NoError(t, err)
	member, err = env.owner.HasRole(ctx, access.SignerRole, user)
	require.NoError(t, err)
	assert.False(t, member)

	_, err = env.owner.GrantRole(ctx, access.OperatorRole(treasury), user)
	requireStatus(t, err, http.StatusForbidden)

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/roles/nope/"+user.Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecords(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()
	first := env.deployWidget(t, "one")
	env.deployWidget(t, "two")

	records, err := env.user.Records(ctx, interfaces.RecordFilter{})
	require.NoError(t, err)
	// Initialized, RoleGranted x2, TemplateAdded, TemplateDeployed x2
	require.Len(t, records, 6)
	for i := 1; i < len(records); i++ {
		assert.Less(t, records[i-1].Seq*100+uint64(records[i-1].Index), records[i].Seq*100+uint64(records[i].Index))
	}

	deployed, err := env.user.Records(ctx, interfaces.RecordFilter{Type: interfaces.TemplateDeployed, Instance: &first})
	require.NoError(t, err)
	require.Len(t, deployed, 1)
	assert.Equal(t, first, deployed[0].Instance)

	limited, err := env.user.Records(ctx, interfaces.RecordFilter{AfterSeq: records[0].Seq, Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Greater(t, limited[0].Seq, records[0].Seq)

	w := env.serve(httptest.NewRequest(http.MethodGet, "/api/v1/records?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckpoint(t *testing.T) {
	env := setupReadyEnvironment(t)
	ctx := context.Background()
	env.deployWidget(t, "saved")

	_, err := env.user.Checkpoint(ctx)
	requireStatus(t, err, http.StatusForbidden)

	resp, err := env.owner.Checkpoint(ctx)
	require.NoError(t, err)
	assert.Contains(t, resp.Backend, "file")

	id, err := interfaces.NewContentIDFromHex(resp.ContentID)
	require.NoError(t, err)
	data, err := env.handler.checkpoints.Fetch(ctx, id, interfaces.CheckpointType)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestErrorStatus(t *testing.T) {
	testCases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"revert", interfaces.Revert("boom"), http.StatusUnprocessableEntity, "revert"},
		{"invalid signature", interfaces.ErrInvalidSignature, http.StatusUnauthorized, "authorization"},
		{"missing role", &interfaces.AuthorizationError{Kind: interfaces.MissingRole}, http.StatusForbidden, "authorization"},
		{"insufficient payment", &interfaces.PaymentError{Kind: interfaces.Insufficient}, http.StatusPaymentRequired, "payment"},
		{"invalid amount", &interfaces.PaymentError{Kind: interfaces.InvalidAmount}, http.StatusBadRequest, "payment"},
		{"duplicate version", interfaces.ErrDuplicateVersion, http.StatusConflict, "registry"},
		{"missing implementation", &interfaces.RegistryError{Kind: interfaces.MissingImplementation}, http.StatusNotFound, "registry"},
		{"invalid target", interfaces.ErrInvalidTarget, http.StatusBadRequest, "registry"},
		{"already initialized", interfaces.ErrAlreadyInitialized, http.StatusConflict, "state"},
		{"stale request", errStaleRequest, http.StatusUnauthorized, "authorization"},
		{"replayed request", errReplayedRequest, http.StatusUnauthorized, "authorization"},
		{"bad request", badRequest("nope"), http.StatusBadRequest, "request"},
		{"content not found", interfaces.ErrContentNotFound, http.StatusNotFound, "storage"},
		{"unknown", io.ErrUnexpectedEOF, http.StatusInternalServerError, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := errorStatus(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, resp.Kind)
			assert.Equal(t, tc.err.Error(), resp.Error)
		})
	}
}
