package gatewayhandler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	gocache "github.com/patrickmn/go-cache"
	"github.com/ruteri/template-gateway/access"
	"github.com/ruteri/template-gateway/api"
	"github.com/ruteri/template-gateway/gateway"
	"github.com/ruteri/template-gateway/interfaces"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// Config holds the optional collaborators of a Handler.
type Config struct {
	// Records serves GET /records when set.
	Records interfaces.RecordStore

	// Checkpoints receives POST /checkpoints snapshots when set.
	Checkpoints interfaces.StorageBackend

	// TrustCallerHeader accepts api.CallerHeader in place of a request signature.
	TrustCallerHeader bool

	MaxClockSkew time.Duration
	Log          *slog.Logger
}

// Handler exposes the gateway over JSON/HTTP. Mutating requests identify
// their caller by signing the request; see authenticate.
type Handler struct {
	gateway           *gateway.Gateway
	records           interfaces.RecordStore
	checkpoints       interfaces.StorageBackend
	trustCallerHeader bool
	maxSkew           time.Duration
	nonces            *gocache.Cache
	now               func() time.Time
	log               *slog.Logger
}

// NewHandler creates a handler serving g.
func NewHandler(g *gateway.Gateway, cfg Config) *Handler {
	h := &Handler{
		gateway:           g,
		records:           cfg.Records,
		checkpoints:       cfg.Checkpoints,
		trustCallerHeader: cfg.TrustCallerHeader,
		maxSkew:           cfg.MaxClockSkew,
		now:               time.Now,
		log:               cfg.Log,
	}
	if h.maxSkew <= 0 {
		h.maxSkew = DefaultMaxClockSkew
	}
	h.nonces = newNonceCache(h.maxSkew)
	if h.log == nil {
		h.log = slog.Default()
	}
	return h
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Post("/initialize", h.HandleInitialize)
		r.Post("/upgrade", h.HandleUpgrade)

		r.Get("/templates", h.HandleListTemplates)
		r.Post("/templates", h.HandleRegisterTemplate)
		r.Get("/templates/{name}", h.HandleGetTemplate)
		r.Post("/templates/{name}/deploy", h.HandleDeploy)

		r.Get("/instances", h.HandleListInstances)
		r.Get("/instances/{instance}", h.HandleGetInstance)
		r.Post("/instances/{instance}/call", h.HandleCall)
		r.Post("/instances/{instance}/query", h.HandleQuery)
		r.Put("/instances/{instance}/whitelist", h.HandleSetWhitelisted)
		r.Get("/instances/{instance}/operators/{account}", h.HandleGetOperator)
		r.Put("/instances/{instance}/operators/{account}", h.HandleSetOperator)

		r.Get("/accounts/{account}", h.HandleGetBalance)
		r.Post("/accounts/{account}/fund", h.HandleFund)

		r.Get("/fees", h.HandleGetFees)
		r.Put("/fees/deployment", h.HandleSetDeploymentFee)
		r.Put("/fees/call", h.HandleSetCallFee)
		r.Post("/fees/withdraw", h.HandleWithdrawFees)

		r.Get("/roles/{role}/{account}", h.HandleGetRole)
		r.Post("/roles/{role}/grant", h.HandleGrantRole)
		r.Post("/roles/{role}/revoke", h.HandleRevokeRole)
		r.Post("/roles/{role}/renounce", h.HandleRenounceRole)

		r.Get("/records", h.HandleListRecords)
		r.Post("/checkpoints", h.HandleCheckpoint)
	})
}

// serveAction reads and authenticates a mutating request, decodes its body into
// req (if any) and writes the receipt of run.
func (h *Handler) serveAction(w http.ResponseWriter, r *http.Request, req any, run func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error)) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, r, badRequest("could not read body: %v", err))
		return
	}

	msg, err := h.authenticate(r, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req != nil {
		if len(body) == 0 {
			h.writeError(w, r, badRequest("empty request body"))
			return
		}
		if err := json.Unmarshal(body, req); err != nil {
			h.writeError(w, r, badRequest("invalid request body: %v", err))
			return
		}
	}

	receipt, err := run(r.Context(), msg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.NewReceiptResponse(receipt))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err, slog.String("path", r.URL.Path))
	} else {
		h.log.Debug("Request rejected", "err", err, slog.String("path", r.URL.Path), slog.Int("status", status))
	}
	h.writeJSON(w, status, resp)
}

func pathAddress(r *http.Request, key string) (common.Address, error) {
	value := r.PathValue(key)
	if !common.IsHexAddress(value) {
		return common.Address{}, badRequest("invalid %s address %q", key, value)
	}
	return common.HexToAddress(value), nil
}

func pathRole(r *http.Request) (common.Hash, error) {
	role, ok := access.ParseRole(r.PathValue("role"))
	if !ok {
		return common.Hash{}, badRequest("invalid role %q", r.PathValue("role"))
	}
	return role, nil
}

// HandleStatus reports the gateway identity and lifecycle state.
//
// URL format: GET /api/v1/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.StatusResponse{
		Address:       h.gateway.Address(),
		Initialized:   h.gateway.Initialized(),
		SchemaVersion: h.gateway.SchemaVersion(),
		CodeVersion:   h.gateway.CodeVersion(),
		Balance:       h.gateway.BalanceOf(h.gateway.Address()),
	})
}

func (h *Handler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	var req api.InitializeRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.Initialize(ctx, msg, req.Owner, req.Signer)
	})
}

func (h *Handler) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	h.serveAction(w, r, nil, h.gateway.Upgrade)
}

// HandleListTemplates lists every registered template with its versions.
//
// URL format: GET /api/v1/templates
func (h *Handler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates := []api.TemplateInfo{}
	for _, name := range h.gateway.Templates() {
		templates = append(templates, h.templateInfo(name))
	}
	h.writeJSON(w, http.StatusOK, templates)
}

// HandleGetTemplate describes one template.
//
// URL format: GET /api/v1/templates/{name}
func (h *Handler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	name := interfaces.TemplateName(r.PathValue("name"))
	if _, ok := h.gateway.LatestVersion(name); !ok {
		h.writeError(w, r, &interfaces.RegistryError{Kind: interfaces.MissingImplementation, Name: name})
		return
	}
	h.writeJSON(w, http.StatusOK, h.templateInfo(name))
}

func (h *Handler) templateInfo(name interfaces.TemplateName) api.TemplateInfo {
	info := api.TemplateInfo{Name: name, Versions: []api.TemplateVersionInfo{}}
	for _, version := range h.gateway.Versions(name) {
		impl, _ := h.gateway.ImplementationOf(name, version)
		info.Versions = append(info.Versions, api.TemplateVersionInfo{
			Version:        version.String(),
			Packed:         uint64(version),
			Implementation: impl,
		})
	}
	if version, ok := h.gateway.LatestVersion(name); ok {
		impl, _ := h.gateway.LatestImplementation(name)
		info.Latest = api.TemplateVersionInfo{Version: version.String(), Packed: uint64(version), Implementation: impl}
	}
	return info
}

// HandleRegisterTemplate registers deployed template code. Admin only.
//
// URL format: POST /api/v1/templates
// Request body: {"implementation": "0x..."}
func (h *Handler) HandleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterTemplateRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.RegisterTemplate(ctx, msg, req.Implementation)
	})
}

// HandleDeploy creates an instance of a template. A request without a
// signature pays the deployment fee; a signed one may pin a version.
//
// URL format: POST /api/v1/templates/{name}/deploy
// Request body: {"init_data": "0x...", "signature": "0x...", "version": "1.2.0"}
func (h *Handler) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	name := interfaces.TemplateName(r.PathValue("name"))
	var req api.DeployRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		switch {
		case len(req.Signature) == 0 && req.Version != "":
			return nil, badRequest("a pinned version requires a signature")
		case len(req.Signature) == 0:
			return h.gateway.DeployByFee(ctx, msg, name, req.InitData)
		case req.Version == "":
			return h.gateway.DeployBySignature(ctx, msg, name, req.InitData, req.Signature)
		}

		version, err := interfaces.ParseTemplateVersion(req.Version)
		if err != nil {
			return nil, badRequest("%v", err)
		}
		return h.gateway.DeployVersionBySignature(ctx, msg, name, version, req.InitData, req.Signature)
	})
}

// HandleListInstances lists created instances in creation order.
//
// URL format: GET /api/v1/instances
func (h *Handler) HandleListInstances(w http.ResponseWriter, r *http.Request) {
	instances := []api.InstanceInfo{}
	for _, instance := range h.gateway.Instances() {
		info, _ := h.instanceInfo(instance)
		instances = append(instances, info)
	}
	h.writeJSON(w, http.StatusOK, instances)
}

// HandleGetInstance describes one instance.
//
// URL format: GET /api/v1/instances/{instance}
func (h *Handler) HandleGetInstance(w http.ResponseWriter, r *http.Request) {
	instance, err := pathAddress(r, "instance")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, ok := h.instanceInfo(instance)
	if !ok {
		h.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: fmt.Sprintf("instance %s not found", instance.Hex()), Kind: "registry"})
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) instanceInfo(instance common.Address) (api.InstanceInfo, bool) {
	clone, ok := h.gateway.InstanceInfo(instance)
	return api.InstanceInfo{
		Address:        instance,
		Name:           clone.Name,
		Version:        clone.Version.String(),
		Implementation: clone.Implementation,
		Initialized:    clone.Initialized,
		Whitelisted:    h.gateway.IsWhitelisted(instance),
		Balance:        h.gateway.BalanceOf(instance),
	}, ok
}

// HandleCall forwards call data to an instance for one of its operators.
// A request without a signature pays the call fee.
//
// URL format: POST /api/v1/instances/{instance}/call
// Request body: {"data": "0x...", "signature": "0x..."}
func (h *Handler) HandleCall(w http.ResponseWriter, r *http.Request) {
	instance, err := pathAddress(r, "instance")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.CallRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		if len(req.Signature) == 0 {
			return h.gateway.CallByFee(ctx, msg, instance, req.Data)
		}
		return h.gateway.CallBySignature(ctx, msg, instance, req.Data, req.Signature)
	})
}

// HandleQuery evaluates call data against an instance without committing anything.
//
// URL format: POST /api/v1/instances/{instance}/query
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	instance, err := pathAddress(r, "instance")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.QueryRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("invalid request body: %v", err))
		return
	}
	ret, err := h.gateway.Query(r.Context(), instance, req.Data)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.QueryResponse{Return: ret})
}

func (h *Handler) HandleSetWhitelisted(w http.ResponseWriter, r *http.Request) {
	instance, err := pathAddress(r, "instance")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.WhitelistRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.SetWhitelisted(ctx, msg, instance, req.Allowed)
	})
}

func (h *Handler) HandleGetOperator(w http.ResponseWriter, r *http.Request) {
	instance, err := pathAddress(r, "instance")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.OperatorResponse{
		Instance: instance,
		Account:  account,
		Role:     h.gateway.OperatorRoleOf(instance),
		Operator: h.gateway.IsOperator(instance, account),
	})
}

func (h *Handler) HandleSetOperator(w http.ResponseWriter, r *http.Request) {
	instance, err := pathAddress(r, "instance")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.OperatorRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.SetOperator(ctx, msg, instance, account, req.Allowed)
	})
}

func (h *Handler) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.BalanceResponse{
		Account: account,
		Balance: h.gateway.BalanceOf(account),
	})
}

// HandleFund credits an account. Only admins may fund accounts.
//
// URL format: POST /api/v1/accounts/{account}/fund
func (h *Handler) HandleFund(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r, "account")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.FundRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.Fund(ctx, msg, account, req.Amount)
	})
}

func (h *Handler) HandleGetFees(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, api.FeesResponse{
		Deployment: h.gateway.DeploymentFee(),
		Call:       h.gateway.CallFee(),
		Collected:  h.gateway.BalanceOf(h.gateway.Address()),
	})
}

func (h *Handler) HandleSetDeploymentFee(w http.ResponseWriter, r *http.Request) {
	var req api.FeeRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.SetDeploymentFee(ctx, msg, req.Amount)
	})
}

func (h *Handler) HandleSetCallFee(w http.ResponseWriter, r *http.Request) {
	var req api.FeeRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.SetCallFee(ctx, msg, req.Amount)
	})
}

func (h *Handler) HandleWithdrawFees(w http.ResponseWriter, r *http.Request) {
	var req api.WithdrawRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.WithdrawFees(ctx, msg, req.To)
	})
}

// HandleGetRole reports role membership. The role is a name (ADMIN_ROLE,
// SIGNER_ROLE) or a 32-byte hex tag, so operator tags can be queried too.
//
// URL format: GET /api/v1/roles/{role}/{account}
func (h *Handler) HandleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := pathRole(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	account, err := pathAddress(r, "account")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.RoleResponse{
		Role:    role,
		Name:    access.RoleName(role),
		Account: account,
		Member:  h.gateway.HasRole(role, account),
	})
}

func (h *Handler) HandleGrantRole(w http.ResponseWriter, r *http.Request) {
	h.serveRoleChange(w, r, h.gateway.GrantRole)
}

func (h *Handler) HandleRevokeRole(w http.ResponseWriter, r *http.Request) {
	h.serveRoleChange(w, r, h.gateway.RevokeRole)
}

func (h *Handler) serveRoleChange(w http.ResponseWriter, r *http.Request, change func(context.Context, interfaces.Msg, common.Hash, common.Address) (*interfaces.Receipt, error)) {
	role, err := pathRole(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req api.RoleRequest
	h.serveAction(w, r, &req, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return change(ctx, msg, role, req.Account)
	})
}

func (h *Handler) HandleRenounceRole(w http.ResponseWriter, r *http.Request) {
	role, err := pathRole(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.serveAction(w, r, nil, func(ctx context.Context, msg interfaces.Msg) (*interfaces.Receipt, error) {
		return h.gateway.RenounceRole(ctx, msg, role)
	})
}

// HandleListRecords pages through the record log.
//
// URL format: GET /api/v1/records?type=TemplateDeployed&instance=0x...&after=12&limit=100
func (h *Handler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		h.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "record log not configured"})
		return
	}

	query := r.URL.Query()
	filter := interfaces.RecordFilter{Type: interfaces.RecordType(query.Get("type"))}
	if instance := query.Get("instance"); instance != "" {
		if !common.IsHexAddress(instance) {
			h.writeError(w, r, badRequest("invalid instance address %q", instance))
			return
		}
		addr := common.HexToAddress(instance)
		filter.Instance = &addr
	}
	if after := query.Get("after"); after != "" {
		seq, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			h.writeError(w, r, badRequest("invalid after %q", after))
			return
		}
		filter.AfterSeq = seq
	}
	if limit := query.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			h.writeError(w, r, badRequest("invalid limit %q", limit))
			return
		}
		filter.Limit = n
	}

	records, err := h.records.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if records == nil {
		records = []interfaces.Record{}
	}
	h.writeJSON(w, http.StatusOK, records)
}

// HandleCheckpoint stores a snapshot of the committed state. Admin only.
//
// URL format: POST /api/v1/checkpoints
func (h *Handler) HandleCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.checkpoints == nil {
		h.writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "checkpoint storage not configured"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, r, badRequest("could not read body: %v", err))
		return
	}
	msg, err := h.authenticate(r, body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !h.gateway.HasRole(access.AdminRole, msg.From) {
		h.writeError(w, r, &interfaces.AuthorizationError{Kind: interfaces.MissingRole, Account: msg.From, Role: access.AdminRole})
		return
	}

	id, err := h.gateway.Checkpoint(r.Context(), h.checkpoints)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.CheckpointResponse{ContentID: id.String(), Backend: h.checkpoints.Name()})
}
