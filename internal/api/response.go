package api

import (
	"net/http"

	"booking-inbox/client/internal/ui"
	apperrors "booking-inbox/client/pkg/errors"

	"github.com/gin-gonic/gin"
)

// ActionResponse carries the outcome of a user action together with the UI
// effects it produced
type ActionResponse struct {
	Alerts   []string            `json:"alerts,omitempty"`
	Redirect string              `json:"redirect,omitempty"`
	Confirm  string              `json:"confirm,omitempty"`
	Cleared  bool                `json:"cleared,omitempty"`
	Error    *apperrors.AppError `json:"error,omitempty"`
	Data     any                 `json:"data,omitempty"`
}

// respond writes the recorded UI effects. A declined confirmation is returned
// as the question to ask. A missing session is left to the error middleware;
// any other failure keeps its status but still reports the alerts raised on
// the way.
func respond(c *gin.Context, rec *ui.Recorder, err error, data any) {
	if apperrors.Is(err, apperrors.ErrNoToken) {
		_ = c.Error(err)
		return
	}

	res := ActionResponse{
		Alerts:   rec.Alerts(),
		Redirect: rec.Redirect(),
		Cleared:  rec.Cleared(),
		Data:     data,
	}
	if questions := rec.Questions(); len(questions) > 0 && !rec.Answer() {
		res.Confirm = questions[0]
	}
	status := http.StatusOK
	if err != nil {
		res.Error = apperrors.FromError(err)
		status = res.Error.StatusCode
	}
	c.JSON(status, res)
}
