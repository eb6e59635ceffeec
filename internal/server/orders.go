package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	cancellationdomain "github.com/smallbiznis/loyalty/internal/cancellation/domain"
	orderdomain "github.com/smallbiznis/loyalty/internal/order/domain"
	orderpointsdomain "github.com/smallbiznis/loyalty/internal/orderpoints/domain"
)

type createOrderRequest struct {
	UserID       string `json:"user_id"`
	OrderNumber  string `json:"order_number"`
	PointsUsed   int64  `json:"points_used"`
	PointsEarned int64  `json:"points_earned"`
	FinalAmount  int64  `json:"final_amount"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil {
		AbortWithError(c, newValidationError("user_id", "invalid_user_id", "invalid user id"))
		return
	}
	orderNumber := strings.TrimSpace(req.OrderNumber)
	if orderNumber == "" {
		AbortWithError(c, newValidationError("order_number", "invalid_order_number", "order number is required"))
		return
	}
	if req.PointsUsed < 0 || req.PointsEarned < 0 || req.FinalAmount < 0 {
		AbortWithError(c, newValidationError("points", "invalid_amount", "amounts must not be negative"))
		return
	}

	order := &orderdomain.Order{
		ID:           s.genID.Generate(),
		UserID:       userID,
		OrderNumber:  orderNumber,
		PointsUsed:   req.PointsUsed,
		PointsEarned: req.PointsEarned,
		FinalAmount:  req.FinalAmount,
		Status:       orderdomain.StatusPending,
	}
	if err := s.orderRepo.Insert(c.Request.Context(), s.db, order); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": order})
}

type processOrderPointsRequest struct {
	ProcessedBy string `json:"processed_by"`
}

// ProcessOrderPoints runs the use-then-earn flow for an order that has not
// had its points applied yet. The amounts come from the stored order
// snapshot, never from the request body.
func (s *Server) ProcessOrderPoints(c *gin.Context) {
	orderID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid order id"))
		return
	}

	var req processOrderPointsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	createdBy := strings.TrimSpace(req.ProcessedBy)
	if createdBy == "" {
		createdBy = "system"
	}

	order, err := s.orderRepo.FindByID(c.Request.Context(), s.db, orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if order == nil {
		AbortWithError(c, orderdomain.ErrNotFound)
		return
	}
	if order.Status.Terminal() {
		AbortWithError(c, cancellationdomain.ErrAlreadyFinalized)
		return
	}

	resp, err := s.orderPointsSvc.Process(c.Request.Context(), orderpointsdomain.ProcessRequest{
		UserID:       order.UserID,
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		PointsUsed:   order.PointsUsed,
		PointsEarned: order.PointsEarned,
		OrderAmount:  order.FinalAmount,
		CreatedBy:    createdBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type cancelOrderRequest struct {
	CancelledBy string `json:"cancelled_by"`
}

func (s *Server) CancelOrder(c *gin.Context) {
	orderID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid order id"))
		return
	}

	var req cancelOrderRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}
	cancelledBy := strings.TrimSpace(req.CancelledBy)
	if cancelledBy == "" {
		cancelledBy = "system"
	}

	resp, err := s.cancellationSvc.Cancel(c.Request.Context(), cancellationdomain.CancelRequest{
		OrderID:     orderID,
		CancelledBy: cancelledBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
