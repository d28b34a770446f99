package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/theMahdiyarB/entekhablock/identity"
	"github.com/theMahdiyarB/entekhablock/ledger"
	"github.com/theMahdiyarB/entekhablock/poll"
)

const maxBodyBytes = 1 << 20

type voteRequest struct {
	VoterFingerprint string `json:"voter_fingerprint"`
	PollID           string `json:"poll_id"`
	Choice           string `json:"choice"`
}

type voteReceipt struct {
	Message   string `json:"message"`
	Position  int    `json:"position"`
	BlockHash string `json:"block_hash"`
}

// handleSubmitVote is the single write path of the ledger. Poll bookkeeping
// runs first so a rejected ballot never reaches the chain; a ballot accepted
// by the poll but refused by the store surfaces as a 500 and the mismatch is
// logged for the operator.
func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.VoterFingerprint == "" || req.PollID == "" || req.Choice == "" {
		writeError(w, http.StatusBadRequest, "voter_fingerprint, poll_id and choice are required")
		return
	}

	if err := s.polls.RecordVote(req.PollID, req.VoterFingerprint, req.Choice); err != nil {
		writeError(w, pollStatus(err), err.Error())
		return
	}

	ts := s.now().Format(ledger.TimeLayout)
	started := time.Now()
	block, err := s.chain.Append(ledger.NewVotePayload(req.VoterFingerprint, req.PollID, req.Choice, ts))
	if err != nil {
		s.metrics.AppendFailed()
		s.log.Error("vote recorded in poll but not in chain",
			"poll_id", req.PollID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to record vote on the chain")
		return
	}
	s.metrics.VoteAppended(time.Since(started))
	s.observeChain()

	s.log.Info("vote recorded", "poll_id", req.PollID, "position", block.Position)
	writeJSON(w, http.StatusCreated, voteReceipt{
		Message:   "رأی شما با موفقیت ثبت شد",
		Position:  block.Position,
		BlockHash: block.Hash,
	})
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request) {
	blocks := s.chain.All()
	writeJSON(w, http.StatusOK, map[string]any{
		"length": len(blocks),
		"blocks": blocks,
	})
}

func (s *Server) handleChainSummary(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.chain.Summary()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.observeChain()
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleChainValidate(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"is_valid": true}
	if err := s.chain.Verify(); err != nil {
		resp["is_valid"] = false
		resp["detail"] = err.Error()
	}
	s.observeChain()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChainBlock(w http.ResponseWriter, r *http.Request) {
	position, ok := positionVar(w, r)
	if !ok {
		return
	}
	block, err := s.chain.ByPosition(position)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleChainPollBlocks(w http.ResponseWriter, r *http.Request) {
	pollID := mux.Vars(r)["pollID"]
	blocks := s.chain.MatchingField("poll_id", pollID)
	writeJSON(w, http.StatusOK, map[string]any{
		"poll_id": pollID,
		"count":   len(blocks),
		"blocks":  blocks,
	})
}

type createPollRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Options     []string `json:"options"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := s.polls.Create(req.Title, req.Description, req.Options, req.StartTime, req.EndTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("poll created", "poll_id", p.ID, "title", p.Title)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleListPolls(w http.ResponseWriter, _ *http.Request) {
	polls := s.polls.List()
	now := s.now()
	type listedPoll struct {
		*poll.Poll
		Status string `json:"status"`
	}
	listed := make([]listedPoll, 0, len(polls))
	for _, p := range polls {
		listed = append(listed, listedPoll{Poll: p, Status: p.Status(now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"polls": listed})
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	p, err := s.polls.Get(mux.Vars(r)["pollID"])
	if err != nil {
		writeError(w, pollStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePoll(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["pollID"]
	if err := s.polls.Delete(id); err != nil {
		writeError(w, pollStatus(err), err.Error())
		return
	}
	s.log.Info("poll deleted", "poll_id", id)
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handlePollResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.polls.Results(mux.Vars(r)["pollID"])
	if err != nil {
		writeError(w, pollStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

type authVerifyRequest struct {
	NationalCode string `json:"national_code"`
	BirthDate    string `json:"birth_date"`
	Mobile       string `json:"mobile"`
	SerialNumber string `json:"serial_number"`
}

// handleAuthVerify checks the submitted details against the voter roll and,
// on success, hands back the salted fingerprint the client must present when
// voting. The raw national code never appears on the chain.
func (s *Server) handleAuthVerify(w http.ResponseWriter, r *http.Request) {
	var req authVerifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	voter, err := s.voters.VerifyStage1(req.NationalCode, req.BirthDate, req.Mobile, req.SerialNumber)
	if err != nil {
		s.log.Warn("voter verification failed", "error", err)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"full_name":         voter.FullName,
		"voter_fingerprint": identity.Fingerprint(req.NationalCode, s.voterSalt),
	})
}

type otpRequest struct {
	Mobile string `json:"mobile"`
	Code   string `json:"code"`
}

func (s *Server) handleOTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.otp.Send(req.Mobile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "کد تأیید ارسال شد"})
}

func (s *Server) handleOTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.otp.Verify(req.Mobile, req.Code); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"verified": true})
}

// handleUploadVoters replaces the in-memory roll from a CSV request body and
// echoes the resulting row count.
func (s *Server) handleUploadVoters(w http.ResponseWriter, r *http.Request) {
	count, err := s.voters.ImportCSV(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info("voter roll replaced", "voters", count)
	writeJSON(w, http.StatusOK, map[string]any{"imported": count})
}

type tamperRequest struct {
	Position int            `json:"position"`
	Payload  ledger.Payload `json:"payload"`
}

// handleTamper runs the in-memory tamper drill: overwrite a block's payload
// without resealing and report chain validity before and after. Nothing is
// persisted, so a restart restores the intact chain.
func (s *Server) handleTamper(w http.ResponseWriter, r *http.Request) {
	var req tamperRequest
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.chain.Tamper(req.Position, req.Payload)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ledger.ErrPositionOutOfRange) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}
	s.log.Warn("tamper drill executed", "position", req.Position,
		"integrity_broken", report.IntegrityBroken)
	s.observeChain()
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) observeChain() {
	s.metrics.ChainObserved(s.chain.Len(), s.chain.Valid())
}

func pollStatus(err error) int {
	switch {
	case errors.Is(err, poll.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, poll.ErrAlreadyVoted):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func positionVar(w http.ResponseWriter, r *http.Request) (int, bool) {
	position, err := strconv.Atoi(mux.Vars(r)["position"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "position must be an integer")
		return 0, false
	}
	return position, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
