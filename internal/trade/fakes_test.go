package trade

import (
	"context"
	"fmt"
	"sync"

	"github.com/coachpo/meltica-trader/internal/binance"
	"github.com/coachpo/meltica-trader/internal/observability"
	"github.com/coachpo/meltica-trader/internal/schema"
)

type fakeAPI struct {
	mu sync.Mutex

	openOrders []binance.OrderRecord
	openErr    error
	openCalls  int

	created   []binance.OrderRequest
	createErr error

	canceled   []string
	cancelErrs map[string]error

	listenKey    string
	keyErr       error
	keepAliveErr error
	keepAlives   int
	deleted      []string

	account binance.AccountInfo
}

func (f *fakeAPI) OpenOrders(_ context.Context, symbol string) ([]binance.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	return append([]binance.OrderRecord(nil), f.openOrders...), nil
}

func (f *fakeAPI) CreateOrder(_ context.Context, req binance.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, req)
	return fmt.Sprintf("%d", 1000+len(f.created)), nil
}

func (f *fakeAPI) CancelOrder(_ context.Context, _ string, orderID string) (binance.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, orderID)
	if err := f.cancelErrs[orderID]; err != nil {
		return binance.OrderRecord{}, err
	}
	return binance.OrderRecord{Status: "CANCELED"}, nil
}

func (f *fakeAPI) Account(context.Context) (binance.AccountInfo, error) {
	return f.account, nil
}

func (f *fakeAPI) CreateListenKey(context.Context) (string, error) {
	if f.keyErr != nil {
		return "", f.keyErr
	}
	return f.listenKey, nil
}

func (f *fakeAPI) KeepAliveListenKey(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlives++
	return f.keepAliveErr
}

func (f *fakeAPI) DeleteListenKey(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeAPI) setKeepAliveErr(err error) {
	f.mu.Lock()
	f.keepAliveErr = err
	f.mu.Unlock()
}

func (f *fakeAPI) counts() (keepAlives int, deleted []string, canceled []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepAlives, append([]string(nil), f.deleted...), append([]string(nil), f.canceled...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []*schema.Order
	errs   []error
	inits  []bool
}

func (n *recordingNotifier) OrderUpdate(_ context.Context, order *schema.Order) {
	n.mu.Lock()
	n.orders = append(n.orders, order)
	n.mu.Unlock()
}

func (n *recordingNotifier) Error(_ context.Context, err error) {
	n.mu.Lock()
	n.errs = append(n.errs, err)
	n.mu.Unlock()
}

func (n *recordingNotifier) InitDone(_ context.Context, success bool, _ error) {
	n.mu.Lock()
	n.inits = append(n.inits, success)
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() (orders []*schema.Order, errs []error, inits []bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*schema.Order(nil), n.orders...),
		append([]error(nil), n.errs...),
		append([]bool(nil), n.inits...)
}

type fakeStream struct {
	mu      sync.Mutex
	opts    binance.StreamOptions
	started bool
	closed  bool
	pings   int
	pingErr error
}

func (s *fakeStream) Start(context.Context) {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
}

func (s *fakeStream) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return s.pingErr
}

func (s *fakeStream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeStream) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// dialer records the stream a session opens.
type dialer struct {
	mu     sync.Mutex
	stream *fakeStream
}

func (d *dialer) dial(opts binance.StreamOptions) StreamConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stream = &fakeStream{opts: opts}
	return d.stream
}

func (d *dialer) current() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

func openRow(id int64, status, origQty, executedQty string, updateTime int64) binance.OrderRecord {
	return binance.OrderRecord{
		Symbol:        "BTCUSDT",
		OrderID:       id,
		ClientOrderID: fmt.Sprintf("client-%d", id),
		Price:         "30000.00",
		OrigQty:       origQty,
		ExecutedQty:   executedQty,
		Status:        status,
		Type:          "LIMIT",
		Side:          "BUY",
		Time:          1_700_000_000_000,
		UpdateTime:    updateTime,
	}
}

func execReport(id int64, symbol, status, quantity, executed string, transactTime int64) []byte {
	return []byte(fmt.Sprintf(`{"e":"executionReport","E":%d,"s":%q,"c":"client-%d","S":"SELL","o":"MARKET","f":"GTC","q":%q,"p":"0.00","P":"0.00","F":"0.00","g":-1,"C":"","x":"TRADE","X":%q,"r":"NONE","i":%d,"l":"0","z":%q,"L":"0","n":"0","N":null,"T":%d,"t":-1,"I":1,"w":false,"m":false,"M":false,"O":1700000000000,"Z":"0","Y":"0","Q":"0"}`,
		transactTime+1, symbol, id, quantity, status, id, executed, transactTime))
}

type logEntry struct {
	level   string
	message string
	fields  map[string]any
}

// recordingLogger keeps every entry for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) record(level, msg string, fields []observability.Field) {
	values := make(map[string]any, len(fields))
	for _, f := range fields {
		values[f.Key] = f.Value
	}
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level: level, message: msg, fields: values})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, fields ...observability.Field) { l.record("debug", msg, fields) }
func (l *recordingLogger) Info(msg string, fields ...observability.Field)  { l.record("info", msg, fields) }
func (l *recordingLogger) Warn(msg string, fields ...observability.Field)  { l.record("warn", msg, fields) }
func (l *recordingLogger) Error(msg string, fields ...observability.Field) { l.record("error", msg, fields) }

func (l *recordingLogger) find(level, msg string) []logEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logEntry
	for _, e := range l.entries {
		if e.level == level && e.message == msg {
			out = append(out, e)
		}
	}
	return out
}
