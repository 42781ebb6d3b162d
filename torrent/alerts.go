package torrent

import (
	"net"
	"sync"
)

// Alert is a notification from the engine. Alerts are posted by the
// session loop and drained from user goroutines with PopAlerts.
type Alert interface {
	alert()
}

type alertBase struct{}

func (alertBase) alert() {}

// TorrentAddedAlert is posted when a torrent enters the session.
type TorrentAddedAlert struct {
	alertBase
	InfoHash [20]byte
	Name     string
}

// TorrentRemovedAlert is posted after remove completes.
type TorrentRemovedAlert struct {
	alertBase
	InfoHash [20]byte
}

// TorrentFinishedAlert is posted when all pieces verify.
type TorrentFinishedAlert struct {
	alertBase
	InfoHash [20]byte
}

// TorrentErrorAlert is posted when a torrent enters the error state.
type TorrentErrorAlert struct {
	alertBase
	InfoHash [20]byte
	Err      error
}

// PieceFinishedAlert is posted per verified piece.
type PieceFinishedAlert struct {
	alertBase
	InfoHash [20]byte
	Index    uint32
}

// PeerConnectedAlert is posted when a handshake completes.
type PeerConnectedAlert struct {
	alertBase
	InfoHash [20]byte
	Addr     *net.TCPAddr
	Incoming bool
}

// PeerDisconnectedAlert is posted from the disconnect entry point.
type PeerDisconnectedAlert struct {
	alertBase
	InfoHash  [20]byte
	Addr      *net.TCPAddr
	Operation Operation
	Err       error
}

// ListenSucceededAlert reports a bound listen socket.
type ListenSucceededAlert struct {
	alertBase
	Addr *net.TCPAddr
}

// ListenFailedAlert reports a listener that could not bind.
type ListenFailedAlert struct {
	alertBase
	Addr string
	Err  error
}

// PortMappedAlert reports a successful UPnP/NAT-PMP mapping.
type PortMappedAlert struct {
	alertBase
	Protocol     string
	InternalPort int
	ExternalPort int
}

// PortMapFailedAlert reports a failed mapping attempt.
type PortMapFailedAlert struct {
	alertBase
	Protocol string
	Err      error
}

// TrackerErrorAlert reports a failed announce.
type TrackerErrorAlert struct {
	alertBase
	InfoHash [20]byte
	URL      string
	Err      error
}

// StateUpdateAlert carries the torrents whose state changed since the
// last update, for pollers.
type StateUpdateAlert struct {
	alertBase
	InfoHashes [][20]byte
}

// alertQueue is the one structure written by the session loop and read
// from user threads; it has its own lock.
type alertQueue struct {
	m      sync.Mutex
	alerts []Alert
	// signal is closed-and-replaced on post so waiters wake up.
	signal chan struct{}
	limit  int
}

func newAlertQueue(limit int) *alertQueue {
	return &alertQueue{
		signal: make(chan struct{}),
		limit:  limit,
	}
}

func (q *alertQueue) post(a Alert) {
	q.m.Lock()
	if len(q.alerts) < q.limit {
		q.alerts = append(q.alerts, a)
	}
	close(q.signal)
	q.signal = make(chan struct{})
	q.m.Unlock()
}

func (q *alertQueue) pop() []Alert {
	q.m.Lock()
	alerts := q.alerts
	q.alerts = nil
	q.m.Unlock()
	return alerts
}

func (q *alertQueue) wait() <-chan struct{} {
	q.m.Lock()
	ch := q.signal
	q.m.Unlock()
	return ch
}

// PopAlerts drains queued alerts. Safe to call from any goroutine.
func (s *Session) PopAlerts() []Alert { return s.alerts.pop() }

// WaitAlerts returns a channel closed on the next posted alert.
func (s *Session) WaitAlerts() <-chan struct{} { return s.alerts.wait() }
