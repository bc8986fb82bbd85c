package cache

import (
	"strconv"
	"strings"
	"time"
)

// SearchKey addresses a cached search-result list.
func SearchKey(domainVariant, keyword string) string {
	return "search:" + strings.ToLower(domainVariant) + ":" + strings.ToLower(strings.TrimSpace(keyword))
}

// DetailKey addresses a cached product detail.
func DetailKey(domainVariant, itemID string) string {
	return "detail:" + strings.ToLower(domainVariant) + ":" + itemID
}

// ReviewsKey addresses a cached review batch.
func ReviewsKey(domainVariant, itemID string) string {
	return "reviews:" + strings.ToLower(domainVariant) + ":" + itemID
}

// TopNKey addresses a cached Top-N read.
func TopNKey(categoryID, groupID string, date time.Time, limit int) string {
	return "read:topn:" + categoryID + ":" + groupID + ":" + date.Format("2006-01-02") + ":" + strconv.Itoa(limit)
}

// HistoryKey addresses a cached product history read starting at since.
func HistoryKey(productID string, since time.Time, days int) string {
	return "read:history:" + productID + ":" + since.Format("2006-01-02") + ":" + strconv.Itoa(days)
}
