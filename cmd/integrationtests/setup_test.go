package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/broadcast"
	"auction-engine/internal/idempotency"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

// testEnv is a full engine behind the real router
type testEnv struct {
	router  *gin.Engine
	service *bidding.BiddingService
	hub     *broadcast.Hub
	clock   *clock.Mock
}

// SetupTestRouter initializes the router with an in-memory repository and a
// mock clock set to epoch.
func SetupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clk := clock.NewMock()
	clk.Set(epoch)

	hub := broadcast.NewHub(broadcast.Options{})
	repo := repository.NewMemoryRepo()
	service := bidding.NewBiddingService(repo, hub,
		bidding.WithClock(clk),
		bidding.WithDecisionCache(idempotency.New(1, time.Minute)),
	)
	t.Cleanup(func() {
		service.Close()
		hub.Close()
	})

	return &testEnv{router: server.SetupRouter(service), service: service, hub: hub, clock: clk}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and parses the response
func ExecuteRequestAndParse(t *testing.T, router http.Handler, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()

	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
	}

	return resp, w
}

// createAuction posts an auction that opens at epoch and returns its id
func (e *testEnv) createAuction(t *testing.T, body map[string]any) string {
	t.Helper()

	if _, ok := body["start_time"]; !ok {
		body["start_time"] = epoch.Format(time.RFC3339)
	}
	resp, w := ExecuteRequestAndParse(t, e.router, http.MethodPost, "/auctions", body)
	require.Equal(t, http.StatusCreated, w.Code, "create auction: %v", resp)

	id := resp["data"].(map[string]any)["auction_id"].(string)
	require.NotEmpty(t, id)
	return id
}

// bid submits a bid and returns the decoded envelope
func (e *testEnv) bid(t *testing.T, auctionID, bidderID, amount string) (map[string]any, int) {
	t.Helper()
	resp, w := ExecuteRequestAndParse(t, e.router, http.MethodPost, "/bids", map[string]any{
		"auction_id": auctionID,
		"bidder_id":  bidderID,
		"amount":     amount,
	})
	return resp, w.Code
}
