package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Sriram-PR/members-filter/pkg/config"
	"github.com/Sriram-PR/members-filter/pkg/engine"
	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/monitor"
	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/tab"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

const (
	defaultMaxTitles = 50
	maxTitlesLimit   = 1000
	maxPageSize      = 20 * 1024 * 1024 // 20 MB
)

// handleGetStats handles the get_stats tool
func (s *Server) handleGetStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	if sessionID != "" && s.sessions.Get(sessionID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("session '%s' not found", sessionID)), nil
	}

	stats, err := s.cfg.Settings.Stats(sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read stats: %v", err)), nil
	}
	enabled, err := s.cfg.Settings.Enabled()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read enabled flag: %v", err)), nil
	}

	result := map[string]interface{}{
		"enabled":     enabled,
		"total_count": stats.TotalCount,
		"cache_size":  stats.CacheSize,
		"open_pages":  len(s.cfg.Bus.Tabs()),
		"sessions":    sortedSessionIDs(s.sessions),
	}
	if sessionID != "" {
		result["session_id"] = sessionID
		result["page_count"] = stats.PageCount
	}

	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListWhitelist handles the list_whitelist tool
func (s *Server) handleListWhitelist(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := s.cfg.Settings.Whitelist()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read whitelist: %v", err)), nil
	}
	if entries == nil {
		entries = []string{}
	}

	result := map[string]interface{}{
		"whitelist":     entries,
		"total_entries": len(entries),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleAddChannel handles the add_channel tool
func (s *Server) handleAddChannel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	handle := strings.TrimSpace(request.GetString("handle", ""))
	if handle == "" {
		return mcp.NewToolResultError("handle parameter is required"), nil
	}

	added, entries, err := s.cfg.Settings.AddChannel(ctx, handle)
	if errors.Is(err, utils.ErrInvalidHandle) {
		return mcp.NewToolResultError(fmt.Sprintf("invalid handle '%s': must start with @", handle)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add channel: %v", err)), nil
	}

	result := map[string]interface{}{
		"handle":    handle,
		"added":     added,
		"whitelist": entries,
	}
	if !added {
		result["message"] = "Channel is already whitelisted"
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleRemoveChannel handles the remove_channel tool
func (s *Server) handleRemoveChannel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entry := request.GetString("entry", "")
	if entry == "" {
		return mcp.NewToolResultError("entry parameter is required"), nil
	}

	removed, entries, err := s.cfg.Settings.RemoveChannel(entry)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to remove channel: %v", err)), nil
	}
	if !removed {
		return mcp.NewToolResultError(fmt.Sprintf("'%s' is not in the whitelist", entry)), nil
	}

	result := map[string]interface{}{
		"entry":     entry,
		"removed":   true,
		"whitelist": entries,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleSetEnabled handles the set_enabled tool
func (s *Server) handleSetEnabled(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, ok := request.GetArguments()["enabled"]; !ok {
		return mcp.NewToolResultError("enabled parameter is required"), nil
	}
	enabled := request.GetBool("enabled", true)

	if err := s.cfg.Settings.SetEnabled(enabled); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update enabled flag: %v", err)), nil
	}

	result := map[string]interface{}{
		"enabled":        enabled,
		"pages_notified": len(s.cfg.Bus.Tabs()),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleClearCache handles the clear_cache tool
func (s *Server) handleClearCache(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.cfg.Settings.ClearCache(ctx); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to clear cache: %v", err)), nil
	}

	result := map[string]interface{}{
		"status":         "cleared",
		"pages_notified": len(s.cfg.Bus.Tabs()),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListCachedTitles handles the list_cached_titles tool
func (s *Server) handleListCachedTitles(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := request.GetString("query", "")
	maxResults := request.GetInt("max_results", defaultMaxTitles)
	if maxResults <= 0 {
		maxResults = defaultMaxTitles
	}
	if maxResults > maxTitlesLimit {
		maxResults = maxTitlesLimit
	}

	entries, err := s.cfg.Settings.CachedTitles(query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read cached titles: %v", err)), nil
	}

	total := len(entries)
	if len(entries) > maxResults {
		entries = entries[:maxResults]
	}

	titles := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		titles = append(titles, titleInfo(e))
	}

	result := map[string]interface{}{
		"query":         query,
		"titles":        titles,
		"total_matches": total,
		"truncated":     total > len(titles),
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleFilterPage handles the filter_page tool
func (s *Server) handleFilterPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageURL := request.GetString("url", "")
	if pageURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	includeHTML := request.GetBool("include_html", true)

	startTime := time.Now()

	markup := request.GetString("html", "")
	if markup == "" {
		body, err := s.downloadPage(ctx, pageURL)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to fetch page: %v", err)), nil
		}
		markup = body
	}

	tabID := uuid.NewString()
	log := s.log.WithField("tab", tabID)
	doc, err := page.NewDocument(pageURL, strings.NewReader(markup), s.cfg.Catalog, log)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse HTML: %v", err)), nil
	}

	eng := engine.New(doc, s.cfg.Catalog, s.cfg.Resolver, s.cfg.Bus, s.cfg.Store, engine.Options{
		TabID:                tabID,
		TitleCacheCapacity:   s.cfg.AppConfig.TitleCacheCapacity,
		MaxConcurrentFetches: s.cfg.AppConfig.MaxConcurrentFetches,
	}, log)
	enabled := eng.Init(ctx)
	pass, err := eng.Scan(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("filter pass failed: %v", err)), nil
	}

	hidden := doc.HiddenItems()
	if hidden == nil {
		hidden = []page.HiddenItem{}
	}
	result := map[string]interface{}{
		"url":          pageURL,
		"enabled":      enabled,
		"pass":         passInfo(pass),
		"hidden_items": hidden,
		"time_ms":      time.Since(startTime).Milliseconds(),
	}
	if includeHTML {
		out, err := doc.HTML()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to render HTML: %v", err)), nil
		}
		result["html"] = out
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// downloadPage fetches a page's markup for filter_page
func (s *Server) downloadPage(ctx context.Context, pageURL string) (string, error) {
	if s.cfg.Fetcher == nil {
		return "", fmt.Errorf("html is required: page downloads are not configured")
	}
	parsedURL, err := url.Parse(pageURL)
	if err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
		return "", fmt.Errorf("%w: URL '%s' must be absolute http(s)", utils.ErrParsing, pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", config.GetEffectiveUserAgent(*s.cfg.AppConfig))
	if s.cfg.AppConfig.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", s.cfg.AppConfig.AcceptLanguage)
	}

	resp, err := s.cfg.Fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxPageSize)); err != nil {
		return "", fmt.Errorf("%w: %w", utils.ErrResponseBodyRead, err)
	}
	return buf.String(), nil
}

// handleOpenPage handles the open_page tool
func (s *Server) handleOpenPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pageURL := request.GetString("url", "")
	if pageURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}
	markup := request.GetString("html", "")
	if markup == "" {
		return mcp.NewToolResultError("html parameter is required"), nil
	}

	doc, err := page.NewDocument(pageURL, strings.NewReader(markup), s.cfg.Catalog, s.log.WithField("url", pageURL))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse HTML: %v", err)), nil
	}
	t := tab.New(tab.Deps{
		Page:     doc,
		Catalog:  s.cfg.Catalog,
		Resolver: s.cfg.Resolver,
		Bus:      s.cfg.Bus,
		Titles:   s.cfg.Store,
		Engine: engine.Options{
			TitleCacheCapacity:   s.cfg.AppConfig.TitleCacheCapacity,
			MaxConcurrentFetches: s.cfg.AppConfig.MaxConcurrentFetches,
		},
		Monitor: monitor.Options{
			Interval:        s.cfg.AppConfig.ScanInterval,
			NavigationDelay: s.cfg.AppConfig.NavigationDelay,
		},
	}, s.log)

	sess, created := s.sessions.Open(s.ctx, doc, t)

	result, _ := s.sessions.Describe(sess.ID)
	if created {
		result["message"] = "Page session opened; filtering runs in the background"
	} else {
		result["message"] = "A session is already open for this address"
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// openSession looks up a session that is still running
func (s *Server) openSession(request mcp.CallToolRequest) (*Session, *mcp.CallToolResult) {
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		return nil, mcp.NewToolResultError("session_id parameter is required")
	}
	sess := s.sessions.Get(sessionID)
	if sess == nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("session '%s' not found", sessionID))
	}
	if !isOpen(s.sessions.Status(sessionID)) {
		return nil, mcp.NewToolResultError(fmt.Sprintf("session '%s' is closed", sessionID))
	}
	return sess, nil
}

// handleAppendItems handles the append_items tool
func (s *Server) handleAppendItems(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.openSession(request)
	if errResult != nil {
		return errResult, nil
	}
	parentSelector := request.GetString("parent_selector", "")
	if parentSelector == "" {
		return mcp.NewToolResultError("parent_selector parameter is required"), nil
	}
	fragment := request.GetString("html", "")
	if fragment == "" {
		return mcp.NewToolResultError("html parameter is required"), nil
	}

	added, err := sess.Document().Append(parentSelector, fragment)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to append: %v", err)), nil
	}

	result := map[string]interface{}{
		"session_id":  sess.ID,
		"nodes_added": added,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleNavigatePage handles the navigate_page tool
func (s *Server) handleNavigatePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, errResult := s.openSession(request)
	if errResult != nil {
		return errResult, nil
	}
	pageURL := request.GetString("url", "")
	if pageURL == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	reloaded := false
	if markup := request.GetString("html", ""); markup != "" {
		if err := sess.Document().Load(pageURL, strings.NewReader(markup)); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse HTML: %v", err)), nil
		}
		reloaded = true
	} else {
		sess.Document().Navigate(pageURL)
	}
	s.sessions.Navigated(sess.ID, pageURL)

	result := map[string]interface{}{
		"session_id": sess.ID,
		"url":        pageURL,
		"reloaded":   reloaded,
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleGetPage handles the get_page tool
func (s *Server) handleGetPage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	result, ok := s.sessions.Describe(sessionID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("session '%s' not found", sessionID)), nil
	}
	sess := s.sessions.Get(sessionID)

	hidden := sess.Document().HiddenItems()
	if hidden == nil {
		hidden = []page.HiddenItem{}
	}
	result["engine"] = sess.Tab().Engine().Snapshot()
	result["hidden_items"] = hidden

	if request.GetBool("include_html", false) {
		out, err := sess.Document().HTML()
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to render HTML: %v", err)), nil
		}
		result["html"] = out
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleClosePage handles the close_page tool
func (s *Server) handleClosePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := request.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id parameter is required"), nil
	}
	if s.sessions.Get(sessionID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("session '%s' not found", sessionID)), nil
	}
	if !s.sessions.Close(sessionID) {
		return mcp.NewToolResultError(fmt.Sprintf("session '%s' is already closed", sessionID)), nil
	}

	result, _ := s.sessions.Describe(sessionID)
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// passInfo converts a pass summary for tool results
func passInfo(p models.PassResult) map[string]interface{} {
	return map[string]interface{}{
		"scanned":     p.Scanned,
		"hidden":      p.Hidden,
		"reasserted":  p.Reasserted,
		"fast_path":   p.FastPath,
		"cache_hits":  p.CacheHits,
		"whitelisted": p.Whitelisted,
		"skipped":     p.Skipped,
	}
}

// titleInfo converts a cached title for tool results
func titleInfo(e models.TitleEntry) map[string]interface{} {
	return map[string]interface{}{
		"title":      e.Title,
		"channel":    e.Channel,
		"blocked_at": e.BlockedAt().UTC().Format(time.RFC3339),
	}
}

// sortedSessionIDs returns the session IDs in a stable order
func sortedSessionIDs(m *SessionManager) []string {
	ids := m.List()
	sort.Strings(ids)
	return ids
}

// formatJSON formats data as an indented JSON string
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("{\"error\": %q}", err.Error())
	}
	return string(b)
}
