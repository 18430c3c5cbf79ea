// Package presence maintains the live, per-website view of who is online
// and where, and broadcasts derived aggregates to dashboard subscribers.
// State is ephemeral: a process restart clears it.
package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"pulsetrack/api/models"
	"pulsetrack/api/realtime"
	"pulsetrack/api/utils"
)

const (
	// A visitor's navigation history keeps the most recent entries only.
	navigationHistoryLimit = 10
	// Popularity broadcasts carry the top pages by distinct viewers.
	popularityLimit = 10
)

// websiteState is the presence record for one website. All mutation goes
// through its mutex so the viewer-set/current-page invariants are never
// observed half-updated. Different websites are fully independent.
type websiteState struct {
	mu sync.Mutex

	activeVisitors map[string]struct{}
	// pageViewers has an entry for a path iff its viewer set is non-empty.
	pageViewers map[string]map[string]struct{}
	// visitorCurrentPage is the single source of truth for where a
	// visitor is right now.
	visitorCurrentPage map[string]string
	navigationPaths    map[string][]string
}

func newWebsiteState() *websiteState {
	return &websiteState{
		activeVisitors:     make(map[string]struct{}),
		pageViewers:        make(map[string]map[string]struct{}),
		visitorCurrentPage: make(map[string]string),
		navigationPaths:    make(map[string][]string),
	}
}

// Engine consumes the tracker event stream and owns one websiteState per
// website, created lazily on first event and kept for the process
// lifetime. Events for different websites are processed in parallel.
type Engine struct {
	mu    sync.RWMutex
	sites map[string]*websiteState
	bus   realtime.Bus
}

func NewEngine(bus realtime.Bus) *Engine {
	return &Engine{
		sites: make(map[string]*websiteState),
		bus:   bus,
	}
}

func (e *Engine) site(websiteName string) *websiteState {
	e.mu.RLock()
	state, ok := e.sites[websiteName]
	e.mu.RUnlock()
	if ok {
		return state
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok = e.sites[websiteName]; ok {
		return state
	}
	state = newWebsiteState()
	e.sites[websiteName] = state
	return state
}

// peek returns the site state without creating it.
func (e *Engine) peek(websiteName string) (*websiteState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.sites[websiteName]
	return state, ok
}

// HandleTrackerEvent records the visitor as active and, for page visits,
// runs the page-transition algorithm. Malformed events are dropped with a
// warning; nothing propagates to the transport layer. Receiving the same
// current-page event twice is a no-op.
func (e *Engine) HandleTrackerEvent(ctx context.Context, evt models.Event) {
	if err := evt.Validate(); err != nil {
		log.Warn().Err(err).Str("type", evt.Type).Msg("dropping malformed tracker event")
		return
	}

	state := e.site(evt.WebsiteName)
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, seen := state.activeVisitors[evt.VisitorID]; !seen {
		state.activeVisitors[evt.VisitorID] = struct{}{}
		e.publishActiveCount(ctx, evt.WebsiteName, len(state.activeVisitors))
	}

	if !evt.IsPageVisit() {
		return
	}

	raw := evt.Path
	if raw == "" {
		raw = evt.URL
	}
	path := utils.NormalizePath(raw)

	if state.visitorCurrentPage[evt.VisitorID] == path {
		return
	}

	// Page transition: leave the previous page, enter the new one.
	if prev, onPage := state.visitorCurrentPage[evt.VisitorID]; onPage {
		state.removeViewer(prev, evt.VisitorID)
	}
	if state.pageViewers[path] == nil {
		state.pageViewers[path] = make(map[string]struct{})
	}
	state.pageViewers[path][evt.VisitorID] = struct{}{}
	state.visitorCurrentPage[evt.VisitorID] = path

	history := append(state.navigationPaths[evt.VisitorID], path)
	if len(history) > navigationHistoryLimit {
		history = history[len(history)-navigationHistoryLimit:]
	}
	state.navigationPaths[evt.VisitorID] = history

	e.publish(ctx, evt.WebsiteName, models.MsgLivePageView, models.LivePageView{
		WebsiteName: evt.WebsiteName,
		Path:        path,
		VisitorID:   evt.VisitorID,
		Timestamp:   evt.Timestamp,
	})
	e.publish(ctx, evt.WebsiteName, models.MsgLiveNavigation, models.LiveNavigation{
		WebsiteName:    evt.WebsiteName,
		VisitorID:      evt.VisitorID,
		NavigationPath: append([]string(nil), history...),
		Timestamp:      evt.Timestamp,
	})
	e.publishDerived(ctx, evt.WebsiteName, state)
}

// HandleNavigation stores a visitor's reported navigation path, republishes
// it to the website's dashboard group and recomputes the flow view.
func (e *Engine) HandleNavigation(ctx context.Context, websiteName, visitorID string, pages []string) {
	if websiteName == "" || visitorID == "" {
		log.Warn().Str("website", websiteName).Msg("dropping malformed navigation update")
		return
	}

	state := e.site(websiteName)
	state.mu.Lock()
	defer state.mu.Unlock()

	normalized := make([]string, 0, len(pages))
	for _, page := range pages {
		normalized = append(normalized, utils.NormalizePath(page))
	}
	if len(normalized) > navigationHistoryLimit {
		normalized = normalized[len(normalized)-navigationHistoryLimit:]
	}
	state.navigationPaths[visitorID] = normalized

	e.publish(ctx, websiteName, models.MsgLiveNavigation, models.LiveNavigation{
		WebsiteName:    websiteName,
		VisitorID:      visitorID,
		NavigationPath: append([]string(nil), normalized...),
	})
	e.publish(ctx, websiteName, models.MsgPageFlow, models.PageFlow{
		WebsiteName: websiteName,
		Flow:        deriveFlow(state.navigationPaths, state.pageViewers),
	})
}

// HandleDisconnect removes a visitor from live state. It is safe against
// partial registration: unknown websites and visitors are no-ops, and
// lastPage is only a fallback when the engine never attributed a page.
func (e *Engine) HandleDisconnect(ctx context.Context, websiteName, visitorID, lastPage string) {
	state, ok := e.peek(websiteName)
	if !ok {
		return
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if _, active := state.activeVisitors[visitorID]; active {
		delete(state.activeVisitors, visitorID)
		e.publishActiveCount(ctx, websiteName, len(state.activeVisitors))
	}

	page, onPage := state.visitorCurrentPage[visitorID]
	if !onPage && lastPage != "" {
		page = utils.NormalizePath(lastPage)
	}
	if page != "" {
		exited := state.removeViewer(page, visitorID)
		delete(state.visitorCurrentPage, visitorID)
		delete(state.navigationPaths, visitorID)
		if exited || onPage {
			e.publish(ctx, websiteName, models.MsgPageExit, models.PageExit{
				WebsiteName: websiteName,
				Path:        page,
				VisitorID:   visitorID,
			})
			e.publishDerived(ctx, websiteName, state)
		}
	} else {
		delete(state.navigationPaths, visitorID)
	}
}

// Snapshot builds the messages a late-joining dashboard needs to render
// current state without waiting for the next event: active count, page
// popularity, flow, and each visitor's recent navigation path. An unknown
// website yields a fresh, empty snapshot.
func (e *Engine) Snapshot(websiteName string) []realtime.Message {
	state, ok := e.peek(websiteName)
	if !ok {
		state = newWebsiteState()
	} else {
		state.mu.Lock()
		defer state.mu.Unlock()
	}

	msgs := make([]realtime.Message, 0, 3+len(state.navigationPaths))
	msgs = appendMessage(msgs, models.MsgActiveUserCount, models.ActiveUserCount{
		WebsiteName: websiteName,
		Count:       len(state.activeVisitors),
	})
	msgs = appendMessage(msgs, models.MsgPagePopularity, models.PagePopularity{
		WebsiteName: websiteName,
		Popularity:  rankPopularity(state.pageViewers),
	})
	msgs = appendMessage(msgs, models.MsgPageFlow, models.PageFlow{
		WebsiteName: websiteName,
		Flow:        deriveFlow(state.navigationPaths, state.pageViewers),
	})

	visitors := make([]string, 0, len(state.navigationPaths))
	for visitorID := range state.navigationPaths {
		visitors = append(visitors, visitorID)
	}
	sort.Strings(visitors)
	for _, visitorID := range visitors {
		msgs = appendMessage(msgs, models.MsgLiveNavigation, models.LiveNavigation{
			WebsiteName:    websiteName,
			VisitorID:      visitorID,
			NavigationPath: append([]string(nil), state.navigationPaths[visitorID]...),
		})
	}
	return msgs
}

// ActiveVisitorCount reports how many visitors are currently online.
func (e *Engine) ActiveVisitorCount(websiteName string) int {
	state, ok := e.peek(websiteName)
	if !ok {
		return 0
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return len(state.activeVisitors)
}

// removeViewer takes a visitor off a page's viewer set, deleting the path
// entry when it becomes empty. Reports whether the visitor was present.
func (s *websiteState) removeViewer(path, visitorID string) bool {
	viewers, ok := s.pageViewers[path]
	if !ok {
		return false
	}
	if _, present := viewers[visitorID]; !present {
		return false
	}
	delete(viewers, visitorID)
	if len(viewers) == 0 {
		delete(s.pageViewers, path)
	}
	return true
}

// rankPopularity recomputes the top pages by distinct-viewer count. A full
// re-sort per mutation is fine at expected scale.
func rankPopularity(pageViewers map[string]map[string]struct{}) []models.PageViewers {
	ranked := make([]models.PageViewers, 0, len(pageViewers))
	for path, viewers := range pageViewers {
		ranked = append(ranked, models.PageViewers{Path: path, Viewers: len(viewers)})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Viewers != ranked[j].Viewers {
			return ranked[i].Viewers > ranked[j].Viewers
		}
		return ranked[i].Path < ranked[j].Path
	})
	if len(ranked) > popularityLimit {
		ranked = ranked[:popularityLimit]
	}
	return ranked
}

// publishDerived broadcasts the views that depend on viewer sets.
func (e *Engine) publishDerived(ctx context.Context, websiteName string, state *websiteState) {
	e.publish(ctx, websiteName, models.MsgPagePopularity, models.PagePopularity{
		WebsiteName: websiteName,
		Popularity:  rankPopularity(state.pageViewers),
	})
	e.publish(ctx, websiteName, models.MsgPageFlow, models.PageFlow{
		WebsiteName: websiteName,
		Flow:        deriveFlow(state.navigationPaths, state.pageViewers),
	})
}

// publishActiveCount goes to both visitor and dashboard groups; live
// visitor counters render on the tracked site as well as the dashboard.
func (e *Engine) publishActiveCount(ctx context.Context, websiteName string, count int) {
	payload := models.ActiveUserCount{WebsiteName: websiteName, Count: count}
	msg, err := realtime.NewMessage(models.MsgActiveUserCount, payload)
	if err != nil {
		log.Error().Err(err).Msg("failed to build activeUserCount message")
		return
	}
	if err := e.bus.Publish(ctx, realtime.VisitorGroup(websiteName), msg); err != nil {
		log.Warn().Err(err).Str("website", websiteName).Msg("failed to publish to visitor group")
	}
	if err := e.bus.Publish(ctx, realtime.DashboardGroup(websiteName), msg); err != nil {
		log.Warn().Err(err).Str("website", websiteName).Msg("failed to publish to dashboard group")
	}
}

func (e *Engine) publish(ctx context.Context, websiteName, msgType string, payload any) {
	msg, err := realtime.NewMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to build broadcast message")
		return
	}
	if err := e.bus.Publish(ctx, realtime.DashboardGroup(websiteName), msg); err != nil {
		log.Warn().Err(err).Str("website", websiteName).Str("type", msgType).Msg("failed to publish broadcast")
	}
}

func appendMessage(msgs []realtime.Message, msgType string, payload any) []realtime.Message {
	msg, err := realtime.NewMessage(msgType, payload)
	if err != nil {
		log.Error().Err(err).Str("type", msgType).Msg("failed to build snapshot message")
		return msgs
	}
	return append(msgs, msg)
}
