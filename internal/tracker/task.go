package tracker

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Ankesh2004/swarm/internal/registry"
	"github.com/Ankesh2004/swarm/internal/report"
	"github.com/Ankesh2004/swarm/pkg/p2p"
)

// State is everything the single mutator owns: the chunk registry and the
// contact directory.
type State struct {
	Registry *registry.Registry
	Peers    registry.Directory
}

func NewState() *State {
	return &State{
		Registry: registry.New(),
		Peers:    make(registry.Directory),
	}
}

func (s *State) Clone() *State {
	return &State{
		Registry: s.Registry.Clone(),
		Peers:    s.Peers.Clone(),
	}
}

type TaskKind uint8

const (
	TaskJoin TaskKind = iota + 1
	TaskAdvertise
	TaskChunkAcquired
	TaskDisconnect
)

func (k TaskKind) String() string {
	switch k {
	case TaskJoin:
		return "join"
	case TaskAdvertise:
		return "advertise"
	case TaskChunkAcquired:
		return "chunk-acquired"
	case TaskDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("TaskKind(%d)", uint8(k))
	}
}

// applyEnv is what a task may touch besides the state it mutates.
type applyEnv struct {
	log     zerolog.Logger
	printer *report.Printer
}

// Task is a recorded state transition. It is applied exactly once by
// Queue.DrainOnce and turns into at most one notification.
type Task struct {
	Kind   TaskKind
	Origin registry.PeerID

	apply func(*State, applyEnv) p2p.Payload
	done  chan struct{}
}

func newTask(kind TaskKind, origin registry.PeerID, apply func(*State, applyEnv) p2p.Payload) *Task {
	return &Task{Kind: kind, Origin: origin, apply: apply, done: make(chan struct{})}
}

// Done is closed once the task has been applied and its state published.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Join and advertise notices also go back to the origin, so its projected
// view catches its own entry even if the handshake snapshot predates it.
func (t *Task) includesOrigin() bool {
	return t.Kind == TaskJoin || t.Kind == TaskAdvertise
}

func JoinTask(id registry.PeerID, contact registry.Contact) *Task {
	return newTask(TaskJoin, id, func(s *State, _ applyEnv) p2p.Payload {
		s.Peers[id] = contact
		return p2p.NewPeerJoined{PeerID: uint32(id), Addr: contact.Addr, Port: contact.Port}
	})
}

func AdvertiseTask(id registry.PeerID, files []p2p.FileInfo) *Task {
	return newTask(TaskAdvertise, id, func(s *State, env applyEnv) p2p.Payload {
		for _, f := range files {
			s.Registry.AddFile(id, f.Name, f.Chunks)
		}
		env.printer.PeerConnected(uint32(id), files)
		return p2p.FilesAdvertised{PeerID: uint32(id), Files: files}
	})
}

func ChunkAcquiredTask(id registry.PeerID, file string, chunk uint32) *Task {
	return newTask(TaskChunkAcquired, id, func(s *State, env applyEnv) p2p.Payload {
		if !s.Registry.AddChunkHolder(id, file, chunk) {
			env.log.Warn().
				Uint32("peer", uint32(id)).
				Str("file", file).
				Uint32("chunk", chunk).
				Msg("chunk reported before its file was advertised")
		}
		env.printer.ChunkAcquired(uint32(id), chunk, s.Registry.ChunkCount(file), file)
		return p2p.ChunkAcquired{PeerID: uint32(id), File: file, Chunk: chunk}
	})
}

func DisconnectTask(id registry.PeerID) *Task {
	return newTask(TaskDisconnect, id, func(s *State, env applyEnv) p2p.Payload {
		env.printer.PeerDisconnected(uint32(id), s.Registry.FilesHeldBy(id))
		s.Registry.RemovePeer(id)
		delete(s.Peers, id)
		return p2p.PeerDisconnected{PeerID: uint32(id)}
	})
}
