package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/models"
)

func TestResultDocument(t *testing.T) {
	winner := "B"
	price := int64(9000)
	a := &models.Auction{
		ID:         uuid.New(),
		Title:      "Combine harvester",
		Category:   "farm",
		Status:     models.StatusSold,
		WinnerID:   &winner,
		FinalPrice: &price,
		Specifications: datatypes.NewJSONType(models.Specifications{
			"hours": models.NumberSpec(1200),
			"make":  models.StringSpec("Claas"),
		}),
	}

	doc := ResultDocument(a)
	require.Equal(t, a.ID.String(), doc["id"])
	require.Equal(t, "B", doc["winner_id"])
	require.Equal(t, int64(9000), doc["final_price"])
	require.Equal(t, float64(1200), doc["spec:hours"])
	require.Equal(t, "Claas", doc["spec:make"])
}

func TestResultQueryBody(t *testing.T) {
	body := ResultQuery{Text: "tractor", Category: "farm", Size: 500}.Body()
	require.Equal(t, 20, body["size"])

	boolQuery := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	require.Len(t, boolQuery["must"], 1)
	require.Len(t, boolQuery["filter"], 1)
}

func TestDisabledClient(t *testing.T) {
	c, err := NewElasticClient(config.ElasticConfig{Enabled: false})
	require.NoError(t, err)
	require.False(t, c.Enabled())

	require.NoError(t, c.IndexAuctionResult(context.Background(), &models.Auction{ID: uuid.New()}))
	_, err = c.SearchResults(context.Background(), ResultQuery{})
	require.ErrorIs(t, err, ErrDisabled)
}
