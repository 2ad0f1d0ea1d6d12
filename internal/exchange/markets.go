package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"surveillance/pkg/types"
)

// MarketsClient is a typed REST client over the exchange's markets API: a
// paginated cursor-based GET returning events, each carrying markets.
type MarketsClient struct {
	http *resty.Client
}

// NewMarketsClient builds a MarketsClient against baseURL.
func NewMarketsClient(baseURL string) *MarketsClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	return &MarketsClient{http: client}
}

const marketsPageSize = 100

// FetchActiveMarkets pages through the markets API up to maxPages and
// returns the flattened, decoded set of markets.
func (c *MarketsClient) FetchActiveMarkets(ctx context.Context, maxPages int) ([]types.Market, error) {
	var out []types.Market
	offset := 0

	for page := 0; maxPages <= 0 || page < maxPages; page++ {
		var events []types.GammaEvent
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"limit":  strconv.Itoa(marketsPageSize),
				"offset": strconv.Itoa(offset),
				"active": "true",
				"closed": "false",
			}).
			SetResult(&events).
			Get("/events")
		if err != nil {
			return nil, fmt.Errorf("fetch markets page offset=%d: %w", offset, err)
		}
		if resp.StatusCode() != 200 {
			return nil, fmt.Errorf("fetch markets: status %d", resp.StatusCode())
		}

		pageCount := 0
		for _, evt := range events {
			for _, gm := range evt.Markets {
				out = append(out, decodeMarket(gm))
				pageCount++
			}
		}

		if pageCount < marketsPageSize {
			break
		}
		offset += marketsPageSize
	}

	return out, nil
}

func decodeMarket(gm types.GammaMarket) types.Market {
	endDate, _ := time.Parse(time.RFC3339, gm.EndDate)

	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		_ = json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs)
	}
	var yesToken, noToken string
	if len(tokenIDs) >= 2 {
		yesToken, noToken = tokenIDs[0], tokenIDs[1]
	}

	var prices []string
	if gm.OutcomePrices != "" {
		_ = json.Unmarshal([]byte(gm.OutcomePrices), &prices)
	}
	var yesPrice, noPrice float64
	if len(prices) >= 2 {
		yesPrice, _ = strconv.ParseFloat(prices[0], 64)
		noPrice, _ = strconv.ParseFloat(prices[1], 64)
	}

	return types.Market{
		ID:           gm.ID,
		ConditionID:  gm.ConditionID,
		Slug:         gm.Slug,
		Question:     gm.Question,
		Description:  gm.Description,
		Tags:         gm.Tags,
		YesTokenID:   yesToken,
		NoTokenID:    noToken,
		EndDate:      endDate,
		Volume24h:    gm.Volume24hr,
		LastYesPrice: yesPrice,
		LastNoPrice:  noPrice,
		Active:       gm.Active,
		Closed:       gm.Closed,
	}
}

// LeaderClient queries the per-market leader status endpoint used by the
// Leader Monitor.
type LeaderClient struct {
	http *resty.Client
}

// NewLeaderClient builds a LeaderClient against baseURL.
func NewLeaderClient(baseURL string) *LeaderClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(1)
	return &LeaderClient{http: client}
}

// Status fetches the leader status snapshot for a single market id.
func (c *LeaderClient) Status(ctx context.Context, marketID string) (*types.LeaderStatus, error) {
	var status types.LeaderStatus
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&status).
		Get("/markets/" + marketID)
	if err != nil {
		return nil, fmt.Errorf("fetch leader status %s: %w", marketID, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch leader status %s: status %d", marketID, resp.StatusCode())
	}
	return &status, nil
}
