package reassembly

// DropReason says why a session was discarded without completing.
type DropReason string

const (
	DropRemoved    DropReason = "removed"
	DropDisconnect DropReason = "disconnect"
	DropIdle       DropReason = "idle"
)

// Observer receives session lifecycle notifications. Calls are made with a
// shard lock held and must not call back into the table.
type Observer interface {
	SessionOpened(channel string, expected int)
	SessionCompleted(channel string, bytes, packets int)
	SessionAborted(channel string, err error)
	SessionDropped(channel string, reason DropReason)
}

type NopObserver struct{}

func (NopObserver) SessionOpened(string, int)         {}
func (NopObserver) SessionCompleted(string, int, int) {}
func (NopObserver) SessionAborted(string, error)      {}
func (NopObserver) SessionDropped(string, DropReason) {}
