package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"site-decisions/internal/access"
	"site-decisions/internal/service"
	"site-decisions/internal/storage"
	"site-decisions/internal/utils"
	"site-decisions/internal/workflow"
)

type voteBody struct {
	AttendeeID string `json:"attendeeId" binding:"required"`
	SlotID     string `json:"slotId" binding:"required"`
}

type confirmBody struct {
	SlotID string `json:"slotId" binding:"required"`
}

type rsvpBody struct {
	Status workflow.AttendanceStatus `json:"status" binding:"required"`
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// MeetingRoutes registers the meeting API under r.
func MeetingRoutes(r *gin.RouterGroup, svc *service.Service, rbac *access.RBAC) {
	r.GET("", RequirePermission(rbac, "meetings", "read"), func(c *gin.Context) {
		actor := mustActor(c)
		filter := storage.MeetingFilter{
			OwnerID:       meAlias(c.Query("owner"), actor),
			ParticipantID: meAlias(c.Query("participant"), actor),
			Status:        workflow.MeetingStatus(c.Query("status")),
		}
		list, err := svc.ListMeetings(c.Request.Context(), filter)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	r.POST("", RequirePermission(rbac, "meetings", "create"), func(c *gin.Context) {
		var in workflow.MeetingInput
		if !bindJSON(c, &in) {
			return
		}
		created, err := svc.CreateMeeting(c.Request.Context(), mustActor(c), in)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Header("Location", utils.UrlFor(c, "/api/meetings/"+created.ID))
		c.JSON(http.StatusCreated, created)
	})

	r.GET("/:id", RequirePermission(rbac, "meetings", "read"), func(c *gin.Context) {
		m, err := svc.GetMeeting(c.Request.Context(), c.Param("id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, m)
	})

	r.POST("/:id/votes", RequirePermission(rbac, "meetings", "vote"), func(c *gin.Context) {
		var body voteBody
		if !bindJSON(c, &body) {
			return
		}
		applyMeeting(c, svc, workflow.CastVote{AttendeeID: body.AttendeeID, SlotID: body.SlotID})
	})

	// Owners manage their own meetings without a role, so confirm and the
	// lifecycle routes below are checked by the workflow authorizer.
	r.POST("/:id/confirm", func(c *gin.Context) {
		var body confirmBody
		if !bindJSON(c, &body) {
			return
		}
		applyMeeting(c, svc, workflow.ConfirmSlot{SlotID: body.SlotID})
	})

	r.PUT("/:id/attendees/:attendeeId/rsvp", RequirePermission(rbac, "meetings", "rsvp"), func(c *gin.Context) {
		var body rsvpBody
		if !bindJSON(c, &body) {
			return
		}
		applyMeeting(c, svc, workflow.SetRSVP{AttendeeID: c.Param("attendeeId"), Status: body.Status})
	})

	r.POST("/:id/invitations", func(c *gin.Context) {
		applyMeeting(c, svc, workflow.SendInvitations{})
	})

	r.POST("/:id/cancel", func(c *gin.Context) {
		var body cancelBody
		if !bindOptionalJSON(c, &body) {
			return
		}
		applyMeeting(c, svc, workflow.CancelMeeting{Reason: body.Reason})
	})

	r.POST("/:id/complete", func(c *gin.Context) {
		applyMeeting(c, svc, workflow.CompleteMeeting{})
	})
}

func applyMeeting(c *gin.Context, svc *service.Service, ev workflow.MeetingEvent) {
	saved, err := svc.ApplyMeeting(c.Request.Context(), mustActor(c), c.Param("id"), ev, c.GetHeader(IdempotencyHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

// "me" in a user filter stands for the caller.
func meAlias(v string, actor workflow.Actor) string {
	if v == "me" {
		return actor.ID
	}
	return v
}
