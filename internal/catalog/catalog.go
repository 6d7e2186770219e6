package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Event 描述可售票的活动，价格以美元计。
type Event struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	City         string  `json:"city"`
	VenueID      string  `json:"venue_id"`
	Date         string  `json:"date"`
	PriceUSD     float64 `json:"price_usd"`
	TotalTickets int64   `json:"total_tickets"`
}

// Venue 描述活动场馆。
type Venue struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Address  string `json:"address"`
	Capacity int64  `json:"capacity"`
}

// Provider 定义活动目录的只读检索接口。
type Provider interface {
	ListEvents(category, city string) []Event
	GetEvent(id string) (Event, bool)
	FindEventByName(name string) (Event, bool)
	ListVenues(city string) []Venue
}

// StaticProvider 通过加载 JSON 文件提供静态目录检索能力。
type StaticProvider struct {
	events []Event
	venues []Venue
	byID   map[string]Event
}

type catalogFile struct {
	Events []Event `json:"events"`
	Venues []Venue `json:"venues"`
}

// NewStaticProvider 创建静态目录实例。
func NewStaticProvider(events []Event, venues []Venue) *StaticProvider {
	byID := make(map[string]Event, len(events))
	for _, event := range events {
		byID[event.ID] = event
	}
	return &StaticProvider{events: events, venues: venues, byID: byID}
}

// LoadStaticProvider 从 JSON 文件加载活动与场馆条目。
func LoadStaticProvider(path string) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("目录文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析目录路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取目录文件失败: %w", err)
	}
	defer file.Close()

	var content catalogFile
	if err := json.NewDecoder(file).Decode(&content); err != nil {
		return nil, fmt.Errorf("解析目录文件失败: %w", err)
	}

	return NewStaticProvider(content.Events, content.Venues), nil
}

// ListEvents 按类别与城市过滤活动，结果按 ID 排序。
func (p *StaticProvider) ListEvents(category, city string) []Event {
	if p == nil {
		return nil
	}
	category = strings.ToLower(strings.TrimSpace(category))
	city = strings.ToLower(strings.TrimSpace(city))

	results := make([]Event, 0, len(p.events))
	for _, event := range p.events {
		if category != "" && strings.ToLower(event.Category) != category {
			continue
		}
		if city != "" && strings.ToLower(event.City) != city {
			continue
		}
		results = append(results, event)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

// GetEvent 按 ID 返回活动。
func (p *StaticProvider) GetEvent(id string) (Event, bool) {
	if p == nil {
		return Event{}, false
	}
	event, ok := p.byID[id]
	return event, ok
}

// FindEventByName 按名称查找活动：先做子串匹配，再做相似度匹配。
func (p *StaticProvider) FindEventByName(name string) (Event, bool) {
	if p == nil {
		return Event{}, false
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Event{}, false
	}

	for _, event := range p.events {
		if strings.Contains(strings.ToLower(event.Name), needle) {
			return event, true
		}
	}
	for _, event := range p.events {
		if strings.Contains(needle, strings.ToLower(event.Name)) {
			return event, true
		}
	}

	// 相似度兜底，阈值 0.7。
	best := Event{}
	bestScore := 0.7
	found := false
	for _, event := range p.events {
		score := similarity(needle, strings.ToLower(event.Name))
		if score > bestScore {
			bestScore = score
			best = event
			found = true
		}
	}
	return best, found
}

// ListVenues 按城市过滤场馆。
func (p *StaticProvider) ListVenues(city string) []Venue {
	if p == nil {
		return nil
	}
	city = strings.ToLower(strings.TrimSpace(city))
	results := make([]Venue, 0, len(p.venues))
	for _, venue := range p.venues {
		if city != "" && strings.ToLower(venue.City) != city {
			continue
		}
		results = append(results, venue)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func similarity(s1, s2 string) float64 {
	maxLen := len(s1)
	if len(s2) > maxLen {
		maxLen = len(s2)
	}
	if maxLen == 0 {
		return 0
	}
	matches := 0
	for i := 0; i < len(s1) && i < len(s2); i++ {
		if s1[i] == s2[i] {
			matches++
		}
	}
	return float64(matches) / float64(maxLen)
}

// DefaultEvents 返回演示用的内置活动目录。
func DefaultEvents() []Event {
	return []Event{
		{ID: "event-1", Name: "Summer Music Festival 2025", Category: "festival", City: "San Francisco", VenueID: "venue-1", Date: "2025-07-12", PriceUSD: 1.00, TotalTickets: 500},
		{ID: "event-2", Name: "Tech Conference 2025", Category: "conference", City: "San Francisco", VenueID: "venue-2", Date: "2025-09-03", PriceUSD: 2.50, TotalTickets: 300},
		{ID: "event-3", Name: "Rock Legends Concert", Category: "concert", City: "Oakland", VenueID: "venue-3", Date: "2025-08-21", PriceUSD: 1.75, TotalTickets: 200},
		{ID: "event-4", Name: "Broadway Musical Night", Category: "theater", City: "San Francisco", VenueID: "venue-1", Date: "2025-10-18", PriceUSD: 3.00, TotalTickets: 150},
	}
}

// DefaultVenues 返回演示用的内置场馆目录。
func DefaultVenues() []Venue {
	return []Venue{
		{ID: "venue-1", Name: "Golden Gate Theater", City: "San Francisco", Address: "1 Taylor St", Capacity: 650},
		{ID: "venue-2", Name: "Moscone Center", City: "San Francisco", Address: "747 Howard St", Capacity: 5000},
		{ID: "venue-3", Name: "Oakland Arena", City: "Oakland", Address: "7000 Coliseum Way", Capacity: 19500},
	}
}

var _ Provider = (*StaticProvider)(nil)
