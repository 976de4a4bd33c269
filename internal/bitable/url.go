package bitable

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseTableURL extracts the app token and table id from a table's share URL,
// e.g. https://example.feishu.cn/base/<app_token>?table=<table_id>&view=...
func ParseTableURL(raw string) (appToken, tableID string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("bitable: parse table url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, p := range parts {
		if p == "base" && i+1 < len(parts) {
			appToken = parts[i+1]
			break
		}
	}
	if appToken == "" && len(parts) > 0 {
		appToken = parts[len(parts)-1]
	}
	tableID = u.Query().Get("table")
	if appToken == "" || tableID == "" {
		return "", "", fmt.Errorf("bitable: url %q carries no app token or table id", raw)
	}
	return appToken, tableID, nil
}
