// Package api exposes the JSON surface of the voting system: vote
// submission, chain queries, poll management and the admin-gated tamper
// drill. The HTML front end of a deployment talks to these endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/theMahdiyarB/entekhablock/identity"
	"github.com/theMahdiyarB/entekhablock/ledger"
	"github.com/theMahdiyarB/entekhablock/metrics"
	"github.com/theMahdiyarB/entekhablock/poll"
)

// Options carries the optional collaborators of a Server.
type Options struct {
	VoterSalt  string
	AdminToken string // empty disables every admin endpoint
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Clock      func() time.Time
}

// Server wires the ledger, poll bookkeeping and identity simulation behind
// HTTP handlers. It performs no business validation of its own beyond
// dispatch: eligibility lives in poll, identity in identity, integrity in
// ledger.
type Server struct {
	chain      *ledger.Chain
	polls      *poll.Manager
	voters     *identity.Registry
	otp        *identity.OTPManager
	metrics    *metrics.Metrics
	voterSalt  string
	adminToken string
	log        *slog.Logger
	now        func() time.Time
}

func NewServer(chain *ledger.Chain, polls *poll.Manager, voters *identity.Registry, opts Options) *Server {
	s := &Server{
		chain:      chain,
		polls:      polls,
		voters:     voters,
		otp:        identity.NewOTPManager(),
		metrics:    opts.Metrics,
		voterSalt:  opts.VoterSalt,
		adminToken: opts.AdminToken,
		log:        opts.Logger,
		now:        opts.Clock,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Router builds the route table. Callers typically wrap the result in a
// request-logging middleware before serving.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/api/v1/votes",
		s.instrument("submit_vote", s.handleSubmitVote)).Methods("POST")

	r.Handle("/api/v1/chain",
		s.instrument("chain_all", s.handleChain)).Methods("GET")
	r.Handle("/api/v1/chain/summary",
		s.instrument("chain_summary", s.handleChainSummary)).Methods("GET")
	r.Handle("/api/v1/chain/validate",
		s.instrument("chain_validate", s.handleChainValidate)).Methods("GET")
	r.Handle("/api/v1/chain/blocks/{position}",
		s.instrument("chain_block", s.handleChainBlock)).Methods("GET")
	r.Handle("/api/v1/chain/polls/{pollID}",
		s.instrument("chain_poll_blocks", s.handleChainPollBlocks)).Methods("GET")

	r.Handle("/api/v1/polls",
		s.instrument("poll_list", s.handleListPolls)).Methods("GET")
	r.Handle("/api/v1/polls/{pollID}",
		s.instrument("poll_get", s.handleGetPoll)).Methods("GET")
	r.Handle("/api/v1/polls/{pollID}/results",
		s.instrument("poll_results", s.handlePollResults)).Methods("GET")

	r.Handle("/api/v1/auth/verify",
		s.instrument("auth_verify", s.handleAuthVerify)).Methods("POST")
	r.Handle("/api/v1/auth/otp/send",
		s.instrument("otp_send", s.handleOTPSend)).Methods("POST")
	r.Handle("/api/v1/auth/otp/verify",
		s.instrument("otp_verify", s.handleOTPVerify)).Methods("POST")

	r.Handle("/api/v1/polls",
		s.requireAdmin(s.handleCreatePoll)).Methods("POST")
	r.Handle("/api/v1/polls/{pollID}",
		s.requireAdmin(s.handleDeletePoll)).Methods("DELETE")
	r.Handle("/api/v1/admin/voters",
		s.requireAdmin(s.handleUploadVoters)).Methods("POST")
	r.Handle("/api/v1/admin/tamper",
		s.requireAdmin(s.handleTamper)).Methods("POST")

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
	return r
}

func (s *Server) instrument(route string, h http.HandlerFunc) http.Handler {
	if s.metrics == nil {
		return h
	}
	return s.metrics.WrapHandler(route, h)
}

// requireAdmin gates destructive and diagnostic endpoints behind the
// configured token. With no token configured the whole admin surface is
// disabled rather than open.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" || r.Header.Get("X-Admin-Token") != s.adminToken {
			s.log.Warn("rejected admin request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusForbidden, "admin access denied")
			return
		}
		next(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
