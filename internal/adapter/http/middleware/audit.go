package middleware

import (
	"encoding/json"
	"time"

	"refunds-service/internal/core/domain"
	"refunds-service/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuditLog creates an audit middleware that records successful write
// operations. It maps route templates to audit actions; reads and failed
// requests are not audited.
func AuditLog(auditSvc ports.AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only audit successful write operations (status 2xx)
		if c.Writer.Status() < 200 || c.Writer.Status() >= 300 {
			return
		}
		if c.Request.Method == "GET" || c.Request.Method == "HEAD" || c.Request.Method == "OPTIONS" {
			return
		}

		action, resourceType := mapRouteToAction(c.FullPath(), c.Request.Method)
		if action == "" {
			return
		}

		var operatorID *uuid.UUID
		if oid, exists := c.Get(CtxOperatorID); exists {
			if id, ok := oid.(uuid.UUID); ok {
				operatorID = &id
			}
		}

		details, _ := json.Marshal(map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		})

		auditSvc.Log(c.Request.Context(), &domain.AuditLog{
			ID:           uuid.New(),
			OperatorID:   operatorID,
			Action:       action,
			ResourceType: resourceType,
			ResourceID:   auditResourceID(c),
			IPAddress:    c.ClientIP(),
			Details:      string(details),
			CreatedAt:    time.Now(),
		})
	}
}

func mapRouteToAction(route, method string) (domain.AuditAction, string) {
	switch {
	case route == "/api/v1/auth/register" && method == "POST":
		return domain.AuditActionRegister, "operator"
	case route == "/api/v1/auth/login" && method == "POST":
		return domain.AuditActionLogin, "session"
	case route == "/api/v1/refunds" && method == "POST":
		return domain.AuditActionRefundCreate, "refund"
	case route == "/api/v1/refunds/:id" && method == "PATCH":
		return domain.AuditActionRefundUpdate, "refund"
	case route == "/api/v1/refunds/:id/submit" && method == "POST":
		return domain.AuditActionRefundSubmit, "refund"
	case route == "/api/v1/refunds/:id/approve" && method == "POST":
		return domain.AuditActionRefundApprove, "refund"
	case route == "/api/v1/refunds/:id/reject" && method == "POST":
		return domain.AuditActionRefundReject, "refund"
	case route == "/api/v1/refunds/:id/cancel" && method == "POST":
		return domain.AuditActionRefundCancel, "refund"
	case route == "/api/v1/refunds/:id/dispatch" && method == "POST":
		return domain.AuditActionRefundDispatch, "refund"
	case route == "/api/v1/bank-accounts" && method == "POST":
		return domain.AuditActionBankAccountCreate, "bank_account"
	case route == "/api/v1/bank-accounts/:id" && method == "PATCH":
		return domain.AuditActionBankAccountUpdate, "bank_account"
	case route == "/api/v1/parameters/:scope/:key" && (method == "PUT" || method == "DELETE"):
		return domain.AuditActionParameterWrite, "parameter"
	}
	return "", ""
}

// auditResourceID pulls the identifying path parameter, if any.
func auditResourceID(c *gin.Context) string {
	if id := c.Param("id"); id != "" {
		return id
	}
	if scope := c.Param("scope"); scope != "" {
		return scope + "/" + c.Param("key")
	}
	return ""
}
