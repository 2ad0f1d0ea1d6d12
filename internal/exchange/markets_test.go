package exchange

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"surveillance/pkg/types"
)

func gammaMarketFixture() types.GammaMarket {
	return types.GammaMarket{
		ID:            "m1",
		ConditionID:   "cond1",
		Slug:          "test-market",
		Question:      "will it happen",
		EndDate:       time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339),
		ClobTokenIds:  `["yes-token","no-token"]`,
		OutcomePrices: `["0.6","0.4"]`,
		Volume24hr:    1000,
		Active:        true,
	}
}

func TestDecodeMarketParsesTokenIDsAndPrices(t *testing.T) {
	t.Parallel()
	gm := gammaMarketFixture()
	m := decodeMarket(gm)

	if m.YesTokenID != "yes-token" || m.NoTokenID != "no-token" {
		t.Fatalf("expected parsed token ids, got yes=%q no=%q", m.YesTokenID, m.NoTokenID)
	}
	if m.LastYesPrice != 0.6 || m.LastNoPrice != 0.4 {
		t.Fatalf("expected parsed outcome prices, got yes=%v no=%v", m.LastYesPrice, m.LastNoPrice)
	}
}

func TestFetchActiveMarketsStopsOnShortPage(t *testing.T) {
	t.Parallel()

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		type market struct {
			ID string `json:"id"`
		}
		type event struct {
			Markets []market `json:"markets"`
		}
		w.Header().Set("Content-Type", "application/json")
		events := []event{{Markets: []market{{ID: "m1"}}}}
		_ = json.NewEncoder(w).Encode(events)
	}))
	defer srv.Close()

	client := NewMarketsClient(srv.URL)
	markets, err := client.FetchActiveMarkets(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(markets) != 1 {
		t.Fatalf("expected 1 market, got %d", len(markets))
	}
	if calls != 1 {
		t.Fatalf("expected pagination to stop after first short page, got %d calls", calls)
	}
}
