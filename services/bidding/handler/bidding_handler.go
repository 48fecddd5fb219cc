package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/broadcast"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_service.go -package=handler

type BiddingServiceInterface interface {
	SubmitBid(ctx context.Context, req model.BidRequest) (model.BidResult, error)
	CreateAuction(req model.NewAuction) (model.Auction, error)
	ListAuctions(filter model.AuctionFilter) ([]model.Auction, error)
	GetAuctionSnapshot(auctionID string) (model.Snapshot, error)
	GetBidsForAuction(auctionID string, q bidding.BiddingQuery) ([]model.Bid, error)
	GetWinningBid(auctionID string) (model.Bid, error)
	GetAuctionsByBidder(bidderID string) ([]model.Auction, error)
	Transition(ctx context.Context, auctionID string, cmd model.Command) (model.Auction, error)
	Subscribe(ctx context.Context, auctionID string) (*broadcast.Subscriber, error)
	Unsubscribe(sub *broadcast.Subscriber)
}

type BiddingHandler struct {
	service   BiddingServiceInterface
	now       func() time.Time
	heartbeat time.Duration
}

func NewBiddingHandler(service BiddingServiceInterface) *BiddingHandler {
	helpers.RegisterValidators()
	return &BiddingHandler{service: service, now: time.Now, heartbeat: 15 * time.Second}
}

// SubmitBidHandler handles POST /bids
func (h *BiddingHandler) SubmitBidHandler(c *gin.Context) {
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "SubmitBidHandler", err)
		return
	}

	res, err := h.service.SubmitBid(c.Request.Context(), model.BidRequest{
		AuctionID: req.AuctionID,
		BidderID:  req.BidderID,
		Amount:    req.Amount,
		RequestID: req.RequestID,
	})
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Error("SubmitBidHandler: failed to submit bid", map[string]any{
			"handler":    "SubmitBidHandler",
			"auction_id": req.AuctionID,
			"bidder_id":  req.BidderID,
			"error":      err.Error(),
		})
		return
	}

	resp := helpers.NewBidResultResponse(res)
	if !res.Accepted() {
		status, message, rejectErr := helpers.MapRejection(res.Reason)
		utils.JSONErrorWithData(c, status, rejectErr, message, resp)
		utils.Info("SubmitBidHandler: bid rejected", map[string]any{
			"auction_id":    req.AuctionID,
			"bidder_id":     req.BidderID,
			"amount":        req.Amount.String(),
			"reason":        string(res.Reason),
			"current_price": res.CurrentPrice.String(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, resp, "bid accepted")
	helpers.LogSuccess("SubmitBidHandler", "bid accepted", map[string]any{
		"bid_id":     res.Bid.BidID,
		"auction_id": res.Bid.AuctionID,
		"bidder_id":  res.Bid.BidderID,
		"amount":     res.Bid.Amount.String(),
		"sequence":   res.Bid.Sequence,
	})
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	created, err := h.service.CreateAuction(req.ToNewAuction(h.now().UTC()))
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{"title": req.Title, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, created, "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": created.AuctionID,
		"title":      created.Title,
	})
}

// ListAuctionsHandler handles GET /auctions
func (h *BiddingHandler) ListAuctionsHandler(c *gin.Context) {
	filter := model.AuctionFilter{
		Status:   model.AuctionStatus(c.Query("status")),
		Category: c.Query("category"),
		Search:   c.Query("search"),
	}

	auctions, err := h.service.ListAuctions(filter)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("ListAuctionsHandler: error listing auctions", map[string]any{"status": filter.Status, "error": err.Error()})
		return
	}

	if auctions == nil {
		auctions = []model.Auction{}
	}

	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
	helpers.LogSuccess("ListAuctionsHandler", "auctions retrieved successfully", map[string]any{"count": len(auctions)})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	snap, err := h.service.GetAuctionSnapshot(auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionHandler: snapshot error", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, snap, "auction retrieved successfully")
}

// GetBidsByAuctionHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidsByAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")

	var q bidding.BiddingQuery
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			utils.JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw), "invalid query parameters")
			return
		}
		q.Limit = limit
	}
	if raw := c.Query("include_rejected"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			utils.JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid include_rejected %q", raw), "invalid query parameters")
			return
		}
		q.IncludeRejected = include
	}

	bids, err := h.service.GetBidsForAuction(auctionID, q)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetBidsByAuctionHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	resp := make([]helpers.BidResponse, 0, len(bids))
	for _, b := range bids {
		resp = append(resp, helpers.NewBidResponse(b))
	}

	utils.JSONResponse(c, http.StatusOK, resp, "bids retrieved successfully")
	helpers.LogSuccess("GetBidsByAuctionHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(resp),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		// For auction, winning bid not found -> 404
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetWinningBidHandler: winning bid error", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
	helpers.LogSuccess("GetWinningBidHandler", "winning bid retrieved successfully", map[string]any{
		"bid_id":     bid.BidID,
		"auction_id": bid.AuctionID,
		"bidder_id":  bid.BidderID,
		"amount":     bid.Amount.String(),
	})
}

// GetAuctionsByUserHandler handles GET /users/:user_id/auctions
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByBidder(userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("GetAuctionsByUserHandler: error retrieving auctions", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	if auctions == nil {
		auctions = []model.Auction{}
	}

	utils.JSONResponse(c, http.StatusOK, auctions, "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByUserHandler", "auctions retrieved successfully", map[string]any{
		"user_id":        userID,
		"auctions_count": len(auctions),
	})
}

// CommandHandler returns the handler for POST /auctions/:auction_id/<cmd>
func (h *BiddingHandler) CommandHandler(cmd model.Command) gin.HandlerFunc {
	name := "CommandHandler(" + string(cmd) + ")"
	return func(c *gin.Context) {
		auctionID := c.Param("auction_id")
		updated, err := h.service.Transition(c.Request.Context(), auctionID, cmd)
		if err != nil {
			status, message := helpers.MapErrorToHTTP(err)
			utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
			utils.Warn(name+": transition failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
			return
		}

		utils.JSONResponse(c, http.StatusOK, updated, fmt.Sprintf("auction %s applied", cmd))
		helpers.LogSuccess(name, "transition applied", map[string]any{
			"auction_id": auctionID,
			"status":     updated.Status,
		})
	}
}

// AuctionEventsHandler handles GET /auctions/:auction_id/events as a
// server-sent event stream. The first event is always a snapshot.
func (h *BiddingHandler) AuctionEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	sub, err := h.service.Subscribe(c.Request.Context(), auctionID)
	if err != nil {
		status, message := helpers.MapErrorToHTTP(err)
		utils.JSONError(c, status, fmt.Errorf("%s: %w", message, err), message)
		utils.Warn("AuctionEventsHandler: subscribe failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}
	defer h.service.Unsubscribe(sub)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	utils.Debug("AuctionEventsHandler: stream opened", map[string]any{"auction_id": auctionID, "subscriber_id": sub.ID})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	events := sub.Events()
	c.Stream(func(io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				if sub.Evicted() {
					c.SSEvent("evicted", gin.H{"auction_id": auctionID, "message": "stream fell behind, resubscribe for a fresh snapshot"})
				}
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"at": h.now().UTC().Format(time.RFC3339)})
			return true
		}
	})

	utils.Debug("AuctionEventsHandler: stream closed", map[string]any{
		"auction_id":    auctionID,
		"subscriber_id": sub.ID,
		"evicted":       sub.Evicted(),
	})
}
