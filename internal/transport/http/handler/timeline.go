package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"custodytrail/internal/app"
	"custodytrail/internal/model"
	"custodytrail/internal/repository"
	"custodytrail/internal/transport/http/response"
)

type TimelineHandler struct {
	timeline *app.TimelineService
}

func NewTimelineHandler(timeline *app.TimelineService) *TimelineHandler {
	return &TimelineHandler{timeline: timeline}
}

// Events lists committed events. from is inclusive, to is exclusive, both as
// YYYY-MM-DD in UTC.
func (h *TimelineHandler) Events(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	filter := repository.TimelineFilter{Type: model.EventType(c.Query("type"))}
	var err error
	if filter.From, err = parseDate(c.Query("from")); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "from must be YYYY-MM-DD")
		return
	}
	if filter.To, err = parseDate(c.Query("to")); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "to must be YYYY-MM-DD")
		return
	}
	if raw := c.Query("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
	}

	events, err := h.timeline.ListEvents(c.Request.Context(), userID, filter)
	if err != nil {
		writeServiceError(c, "list timeline", err)
		return
	}
	response.OK(c, gin.H{"events": events})
}

func (h *TimelineHandler) ActionItems(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	items, err := h.timeline.ListActionItems(c.Request.Context(), userID, model.ActionItemStatus(c.Query("status")))
	if err != nil {
		writeServiceError(c, "list action items", err)
		return
	}
	response.OK(c, gin.H{"action_items": items})
}
