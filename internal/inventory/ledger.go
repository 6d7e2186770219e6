package inventory

import (
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "TicketChain/internal/errors"
)

// Reservation 表示对某场活动库存的一次临时占用。
type Reservation struct {
	ID        string `json:"id"`
	EventID   string `json:"event_id"`
	Quantity  int64  `json:"quantity"`
	CreatedAt int64  `json:"created_at"`
}

type holdState string

const (
	holdActive    holdState = "active"
	holdCommitted holdState = "committed"
	holdReleased  holdState = "released"
)

type hold struct {
	reservation Reservation
	state       holdState
}

// counter 是单场活动的库存计数器，持有自己的互斥锁，
// 不同活动之间的操作互不阻塞。
type counter struct {
	mu        sync.Mutex
	total     int64
	available int64
	holds     map[string]*hold
}

// maxClosedHolds 限制已终结预订的墓碑数量。超出后最老的墓碑被淘汰，
// 对应预订的重复操作从"已终结"退化为"不存在"。
const maxClosedHolds = 4096

// Ledger 管理所有活动的库存计数器。外层锁只保护映射本身，
// 计数器内容由各自的锁串行化。已终结的预订从活跃映射移除，
// 只留下有界的墓碑用于区分重复操作与未知预订。
type Ledger struct {
	mu          sync.RWMutex
	counters    map[string]*counter
	byHold      map[string]*counter
	closed      map[string]struct{}
	closedOrder []string
}

var (
	// ErrInsufficientInventory 表示剩余库存不足以满足本次预订。
	ErrInsufficientInventory = xerrors.New(CodeInsufficientInventory, "insufficient inventory")
	// ErrEventNotRegistered 表示活动尚未登记库存。
	ErrEventNotRegistered = xerrors.New(xerrors.CodeNotFound, "活动未登记库存")
	// ErrReservationNotFound 表示指定的预订不存在。
	ErrReservationNotFound = xerrors.New(xerrors.CodeNotFound, "预订不存在")
	// ErrReservationClosed 表示预订已经释放或已确认，不能再次操作。
	ErrReservationClosed = xerrors.New(xerrors.CodeConflict, "预订已终结")
)

// CodeInsufficientInventory 是库存不足的统一错误码。
const CodeInsufficientInventory xerrors.Code = "INSUFFICIENT_INVENTORY"

func init() {
	xerrors.Register(CodeInsufficientInventory, xerrors.Attributes{
		Message:   "insufficient inventory",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// NewLedger 创建空的库存账本。
func NewLedger() *Ledger {
	return &Ledger{
		counters: make(map[string]*counter),
		byHold:   make(map[string]*counter),
		closed:   make(map[string]struct{}),
	}
}

// Register 登记一场活动的总库存。重复登记会被忽略。
func (l *Ledger) Register(eventID string, total int64) {
	if eventID == "" || total < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.counters[eventID]; ok {
		return
	}
	l.counters[eventID] = &counter{
		total:     total,
		available: total,
		holds:     make(map[string]*hold),
	}
}

// Reserve 原子地占用 quantity 个单位库存。
// 并发调用同一活动时最多只有一方能超过剩余量，库存永不为负。
func (l *Ledger) Reserve(eventID string, quantity int64) (*Reservation, error) {
	if quantity <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "预订数量必须为正数")
	}

	l.mu.RLock()
	c, ok := l.counters[eventID]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrEventNotRegistered
	}

	c.mu.Lock()
	if c.available < quantity {
		c.mu.Unlock()
		return nil, ErrInsufficientInventory
	}
	c.available -= quantity
	reservation := Reservation{
		ID:        uuid.NewString(),
		EventID:   eventID,
		Quantity:  quantity,
		CreatedAt: time.Now().Unix(),
	}
	c.holds[reservation.ID] = &hold{reservation: reservation, state: holdActive}
	c.mu.Unlock()

	l.mu.Lock()
	l.byHold[reservation.ID] = c
	l.mu.Unlock()

	clone := reservation
	return &clone, nil
}

// Release 将预订占用的库存退回可售池。只能成功一次，
// 终结后预订从活跃映射移除，仅留墓碑。
func (l *Ledger) Release(reservationID string) error {
	c, h, err := l.lookup(reservationID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if h.state != holdActive {
		c.mu.Unlock()
		return ErrReservationClosed
	}
	h.state = holdReleased
	c.available += h.reservation.Quantity
	delete(c.holds, reservationID)
	c.mu.Unlock()

	l.retire(reservationID)
	return nil
}

// Commit 将预订占用永久化。库存在 Reserve 时已扣减，此处不再变动计数。
func (l *Ledger) Commit(reservationID string) error {
	c, h, err := l.lookup(reservationID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if h.state != holdActive {
		c.mu.Unlock()
		return ErrReservationClosed
	}
	h.state = holdCommitted
	delete(c.holds, reservationID)
	c.mu.Unlock()

	l.retire(reservationID)
	return nil
}

// retire 把终结的预订移出活跃映射并登记墓碑，墓碑总量有上界。
func (l *Ledger) retire(reservationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.byHold, reservationID)
	l.closed[reservationID] = struct{}{}
	l.closedOrder = append(l.closedOrder, reservationID)
	for len(l.closedOrder) > maxClosedHolds {
		oldest := l.closedOrder[0]
		l.closedOrder = l.closedOrder[1:]
		delete(l.closed, oldest)
	}
}

// Available 返回活动当前剩余库存。
func (l *Ledger) Available(eventID string) (int64, error) {
	l.mu.RLock()
	c, ok := l.counters[eventID]
	l.mu.RUnlock()
	if !ok {
		return 0, ErrEventNotRegistered
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available, nil
}

// Total 返回活动的总库存。
func (l *Ledger) Total(eventID string) (int64, error) {
	l.mu.RLock()
	c, ok := l.counters[eventID]
	l.mu.RUnlock()
	if !ok {
		return 0, ErrEventNotRegistered
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, nil
}

// Get 返回预订的只读副本。
func (l *Ledger) Get(reservationID string) (*Reservation, error) {
	c, h, err := l.lookup(reservationID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := h.reservation
	return &clone, nil
}

func (l *Ledger) lookup(reservationID string) (*counter, *hold, error) {
	l.mu.RLock()
	c, ok := l.byHold[reservationID]
	_, wasClosed := l.closed[reservationID]
	l.mu.RUnlock()
	if !ok {
		if wasClosed {
			return nil, nil, ErrReservationClosed
		}
		return nil, nil, ErrReservationNotFound
	}
	c.mu.Lock()
	h, ok := c.holds[reservationID]
	c.mu.Unlock()
	if !ok {
		// 与并发终结竞争时，byHold 命中而 holds 已清理。
		l.mu.RLock()
		_, wasClosed = l.closed[reservationID]
		l.mu.RUnlock()
		if wasClosed {
			return nil, nil, ErrReservationClosed
		}
		return nil, nil, ErrReservationNotFound
	}
	return c, h, nil
}
