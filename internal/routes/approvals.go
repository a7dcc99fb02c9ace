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

type decisionBody struct {
	Decision workflow.Decision `json:"decision" binding:"required"`
	Comment  string            `json:"comment"`
}

// ApprovalRoutes registers the approval request API under r.
func ApprovalRoutes(r *gin.RouterGroup, svc *service.Service, rbac *access.RBAC) {
	r.GET("", RequirePermission(rbac, "approvals", "read"), func(c *gin.Context) {
		filter := storage.ApprovalFilter{
			EntityType: workflow.EntityType(c.Query("entityType")),
			EntityID:   c.Query("entityId"),
			Status:     workflow.ApprovalStatus(c.Query("status")),
		}
		list, err := svc.ListApprovals(c.Request.Context(), filter)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, list)
	})

	r.POST("", RequirePermission(rbac, "approvals", "create"), func(c *gin.Context) {
		var in workflow.ApprovalInput
		if !bindJSON(c, &in) {
			return
		}
		actor := mustActor(c)
		created, err := svc.CreateApproval(c.Request.Context(), actor, in)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Header("Location", utils.UrlFor(c, "/api/approvals/"+created.ID))
		c.JSON(http.StatusCreated, created)
	})

	r.GET("/:id", RequirePermission(rbac, "approvals", "read"), func(c *gin.Context) {
		req, err := svc.GetApproval(c.Request.Context(), c.Param("id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, req)
	})

	r.POST("/:id/submit", RequirePermission(rbac, "approvals", "submit"), func(c *gin.Context) {
		applyApproval(c, svc, workflow.SubmitRequest{})
	})

	r.POST("/:id/steps/:stepId/claim", RequirePermission(rbac, "approvals", "claim"), func(c *gin.Context) {
		applyApproval(c, svc, workflow.ClaimStep{StepID: c.Param("stepId")})
	})

	r.POST("/:id/steps/:stepId/decision", RequirePermission(rbac, "approvals", "decide"), func(c *gin.Context) {
		var body decisionBody
		if !bindJSON(c, &body) {
			return
		}
		applyApproval(c, svc, workflow.DecideStep{
			StepID:   c.Param("stepId"),
			Decision: body.Decision,
			Comment:  body.Comment,
		})
	})
}

func applyApproval(c *gin.Context, svc *service.Service, ev workflow.ApprovalEvent) {
	actor := mustActor(c)
	saved, err := svc.ApplyApproval(c.Request.Context(), actor, c.Param("id"), ev, c.GetHeader(IdempotencyHeader))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}
