package api

import (
	"errors"
	"net/http"

	errorsmod "cosmossdk.io/errors"
	log "github.com/sirupsen/logrus"

	"github.com/GoPolymarket/puzzle-prizes/internal/gate"
	"github.com/GoPolymarket/puzzle-prizes/internal/prize"
)

const codespace = "api"

var (
	ErrBadRequest      = errorsmod.Register(codespace, 2, "bad request")
	ErrUnauthenticated = errorsmod.Register(codespace, 3, "caller authentication failed")
	ErrRateLimited     = errorsmod.Register(codespace, 4, "rate limit exceeded")
)

var statusTable = []struct {
	err    error
	status int
}{
	{ErrUnauthenticated, http.StatusUnauthorized},
	{ErrRateLimited, http.StatusTooManyRequests},
	{ErrBadRequest, http.StatusBadRequest},

	{gate.ErrNotAuthorized, http.StatusForbidden},
	{prize.ErrInvalidSignature, http.StatusForbidden},

	{prize.ErrEscrowNotFound, http.StatusNotFound},
	{prize.ErrNoCompletion, http.StatusNotFound},

	{prize.ErrEscrowExists, http.StatusConflict},
	{prize.ErrAlreadyCompleted, http.StatusConflict},
	{prize.ErrAlreadyClaimed, http.StatusConflict},
	{prize.ErrRecovered, http.StatusConflict},
	{prize.ErrInvalidState, http.StatusConflict},
	{prize.ErrNotActive, http.StatusConflict},
	{prize.ErrDeadlineElapsed, http.StatusConflict},
	{prize.ErrRecoveryWindow, http.StatusConflict},
	{prize.ErrTransferPending, http.StatusConflict},
	{gate.ErrLastAdmin, http.StatusConflict},

	{prize.ErrShareSum, http.StatusBadRequest},
	{prize.ErrTokenNotAllowed, http.StatusBadRequest},
	{prize.ErrEmptyShares, http.StatusBadRequest},
	{prize.ErrTooManyWinners, http.StatusBadRequest},
	{prize.ErrZeroPool, http.StatusBadRequest},
	{prize.ErrInvalidDeadline, http.StatusBadRequest},
	{prize.ErrInvalidParam, http.StatusBadRequest},
	{gate.ErrInvalidMember, http.StatusBadRequest},

	{prize.ErrTransferFailed, http.StatusBadGateway},
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	for _, row := range statusTable {
		if errors.Is(err, row.err) {
			return row.status
		}
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	_, code, _ := errorsmod.ABCIInfo(err, false)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		log.WithFields(log.Fields{"method": r.Method, "path": r.URL.Path}).WithError(err).Error("api request failed")
		code = 1
	} else if s.rejections != nil {
		s.rejections.RecordRejection(err)
	}
	s.writeJSONStatus(w, status, map[string]interface{}{
		"error": err.Error(),
		"code":  code,
	})
}
