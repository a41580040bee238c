package mcpfacade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	mcpauth "github.com/modelcontextprotocol/go-sdk/auth"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/testlens-dev/testlens-mcp/internal/logctx"
	"github.com/testlens-dev/testlens-mcp/resources"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/upstream"
)

const serverName = "testlens-mcp"

const serverInstructions = `TestLens adapter. Call use_target first to focus a
test target; reports and test cases for the focused target are then exposed
as resources and kept fresh automatically. Trace artifacts, when a run
captured them, are linked from get_report.`

// API is the slice of the platform client the facade needs. The refresher's
// API is a subset so one upstream client satisfies both.
type API interface {
	resources.API
	ListTargets(ctx context.Context, credential string) ([]upstream.Target, error)
	GetTarget(ctx context.Context, credential, targetID string) (*upstream.Target, error)
	GetReport(ctx context.Context, credential, targetID, reportID string) (*upstream.Report, error)
}

var _ API = (*upstream.Client)(nil)

// Facade wires the session store, the upstream client, and the refresher
// into MCP servers. One Facade serves either many HTTP sessions or a single
// stdio session.
type Facade struct {
	store     sessions.Store
	creds     *sessions.CredentialResolver
	api       API
	refresher *resources.Refresher
	log       *slog.Logger
	version   string
}

func New(store sessions.Store, api API, refresher *resources.Refresher, version string, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if version == "" {
		version = "0.0.0-dev"
	}
	return &Facade{
		store:     store,
		creds:     sessions.NewCredentialResolver(store),
		api:       api,
		refresher: refresher,
		log:       log,
		version:   version,
	}
}

// newSessionServer builds a server that will serve exactly one session.
// fixedID and fixedCredential are set only in stdio mode, where the binding
// happens before the transport starts; in HTTP mode both are empty and the
// binding happens in the initialized handler.
func (f *Facade) newSessionServer(fixedID, fixedCredential string) (*mcpsdk.Server, *sessionHandle) {
	h := &sessionHandle{facade: f, id: fixedID, published: make(map[string]bool)}
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    serverName,
		Version: f.version,
	}, &mcpsdk.ServerOptions{
		Instructions: serverInstructions,
		InitializedHandler: func(ctx context.Context, req *mcpsdk.InitializedRequest) {
			f.bindSession(ctx, req, h, fixedCredential)
		},
		HasResources: true,
	})
	h.srv = srv
	f.registerTools(srv, h)
	return srv, h
}

// bindSession translates a completed handshake into a session record. For
// the stdio mode the record was already written before the transport
// started; only the handle-to-session association is refreshed here.
func (f *Facade) bindSession(ctx context.Context, req *mcpsdk.InitializedRequest, h *sessionHandle, fixedCredential string) {
	if req == nil || req.Session == nil {
		return
	}
	ss := req.Session

	if h.sessionID() != "" {
		// Stdio: bound at process start.
		go f.waitSession(ss, h.sessionID())
		return
	}

	id := strings.TrimSpace(ss.ID())
	if id == "" {
		id = uuid.NewString()
	}
	h.bind(id)

	cred := fixedCredential
	if cred == "" {
		cred = requestCredential(req.Extra)
	}

	rec := &sessions.Record{SessionID: id, Credential: cred, Handle: h}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: id})
	if err := f.store.Put(ctx, rec); err != nil {
		f.log.ErrorContext(ctx, "session bind failed", "error", err)
		return
	}
	f.log.InfoContext(ctx, "session bound")

	go f.waitSession(ss, id)
}

// waitSession matches every create with exactly one remove, including
// abnormal closures: Wait returns when the SDK observes the connection gone.
func (f *Facade) waitSession(ss *mcpsdk.ServerSession, id string) {
	_ = ss.Wait()
	ctx := logctx.WithSessionData(context.Background(), &logctx.SessionData{SessionID: id})
	if err := f.store.Delete(ctx, id); err != nil {
		f.log.WarnContext(ctx, "session remove failed", "error", err)
		return
	}
	f.log.InfoContext(ctx, "session removed")
}

// verifyToken implements go-sdk/auth.TokenVerifier. The adapter never
// validates tokens itself; the platform does on every call. The raw bearer
// is carried through as the principal so the initialized handler can bind
// it to the session.
func (f *Facade) verifyToken(ctx context.Context, token string, _ *http.Request) (*mcpauth.TokenInfo, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", mcpauth.ErrInvalidToken)
	}
	return &mcpauth.TokenInfo{
		UserID:     token,
		Expiration: time.Now().Add(24 * time.Hour),
	}, nil
}

func requestCredential(extra *mcpsdk.RequestExtra) string {
	if extra == nil || extra.TokenInfo == nil {
		return ""
	}
	return strings.TrimSpace(extra.TokenInfo.UserID)
}

var (
	errUnknownSession  = errors.New("unauthorized: session unknown to this server")
	errSessionUnusable = errors.New("unauthorized: session is not usable on this instance")
)

// usableRecord resolves the caller's session record and credential, and
// rejects sessions whose transport lives in another process.
func (f *Facade) usableRecord(ctx context.Context, h *sessionHandle, ss *mcpsdk.ServerSession) (*sessions.Record, error) {
	id := h.sessionID()
	if id == "" && ss != nil {
		id = ss.ID()
	}
	if _, err := f.creds.Credential(ctx, id); err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, errUnknownSession
		}
		return nil, err
	}
	rec, err := f.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			return nil, errUnknownSession
		}
		return nil, err
	}
	if rec.Status != sessions.StatusActive {
		return nil, errSessionUnusable
	}
	return rec, nil
}
