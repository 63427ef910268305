package p2p

import (
	"encoding/gob"
	"fmt"
)

// IncomingMessage is the frame marker that precedes every framed message on the wire.
const IncomingMessage = 0x1

func init() {
	// Every concrete payload has to be registered, otherwise the
	// Message.Payload interface won't deserialize.
	gob.Register(PortAssignment{})
	gob.Register(PeerAssignment{})
	gob.Register(JoinAnnounce{})
	gob.Register(FilesAnnounce{})
	gob.Register(RegistrySnapshot{})
	gob.Register(PeerDirectorySnapshot{})
	gob.Register(ChunkAcquired{})
	gob.Register(NewPeerJoined{})
	gob.Register(FilesAdvertised{})
	gob.Register(PeerDisconnected{})
	gob.Register(ChunkRequest{})
	gob.Register(ChunkData{})
}

// Kind identifies one case of the closed message catalogue.
type Kind uint8

const (
	KindPortAssignment Kind = iota + 1
	KindPeerAssignment
	KindJoinAnnounce
	KindFilesAnnounce
	KindRegistrySnapshot
	KindPeerDirectorySnapshot
	KindChunkAcquired
	KindNewPeerJoined
	KindFilesAdvertised
	KindPeerDisconnected
	KindChunkRequest
	KindChunkData
)

var kindNames = map[Kind]string{
	KindPortAssignment:        "PortAssignment",
	KindPeerAssignment:        "PeerAssignment",
	KindJoinAnnounce:          "JoinAnnounce",
	KindFilesAnnounce:         "FilesAnnounce",
	KindRegistrySnapshot:      "RegistrySnapshot",
	KindPeerDirectorySnapshot: "PeerDirectorySnapshot",
	KindChunkAcquired:         "ChunkAcquired",
	KindNewPeerJoined:         "NewPeerJoined",
	KindFilesAdvertised:       "FilesAdvertised",
	KindPeerDisconnected:      "PeerDisconnected",
	KindChunkRequest:          "ChunkRequest",
	KindChunkData:             "ChunkData",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Payload is implemented only by the message types in this file, so a
// type switch over it can be exhaustive.
type Payload interface {
	Kind() Kind
	sealed()
}

// Message is the wrapper that actually travels through gob.
type Message struct {
	Payload Payload
}

// PortAssignment is the tracker's answer on the control port: reconnect here.
type PortAssignment struct {
	Port int
}

// PeerAssignment is the first message on a session connection.
type PeerAssignment struct {
	PeerID uint32
}

// JoinAnnounce carries the contact info other peers should dial to fetch chunks.
type JoinAnnounce struct {
	Addr string
	Port int
}

// FileInfo describes a file by name and chunk count.
type FileInfo struct {
	Name   string
	Chunks uint32
}

// FilesAnnounce lists the files a joining peer holds in full.
type FilesAnnounce struct {
	Files []FileInfo
}

// ChunkHolders is one chunk index and the peers holding it.
type ChunkHolders struct {
	Index   uint32
	Holders []uint32
}

// FileHolders is one file of a registry snapshot. Advertised is false for a
// file only known from chunk reports so far.
type FileHolders struct {
	Name       string
	Advertised bool
	Chunks     []ChunkHolders
}

// RegistrySnapshot is the whole chunk registry, files in discovery order.
type RegistrySnapshot struct {
	Files []FileHolders
}

// PeerContact is one entry of the contact directory.
type PeerContact struct {
	PeerID uint32
	Addr   string
	Port   int
}

// PeerDirectorySnapshot is the whole contact directory.
type PeerDirectorySnapshot struct {
	Peers []PeerContact
}

// ChunkAcquired is reported by a peer and fanned out by the tracker.
type ChunkAcquired struct {
	PeerID uint32
	File   string
	Chunk  uint32
}

// NewPeerJoined tells peers how to reach a newcomer.
type NewPeerJoined struct {
	PeerID uint32
	Addr   string
	Port   int
}

// FilesAdvertised fans a peer's FilesAnnounce out to everybody.
type FilesAdvertised struct {
	PeerID uint32
	Files  []FileInfo
}

// PeerDisconnected is both the leave notice and its broadcast.
type PeerDisconnected struct {
	PeerID uint32
}

// ChunkRequest asks another peer for some chunks of a file.
type ChunkRequest struct {
	RequestID string
	File      string
	Chunks    []uint32
}

// ChunkData answers one chunk of a ChunkRequest.
type ChunkData struct {
	RequestID string
	File      string
	Chunk     uint32
	Data      []byte
	Digest    []byte // blake2b-256 of Data
}

func (PortAssignment) Kind() Kind        { return KindPortAssignment }
func (PeerAssignment) Kind() Kind        { return KindPeerAssignment }
func (JoinAnnounce) Kind() Kind          { return KindJoinAnnounce }
func (FilesAnnounce) Kind() Kind         { return KindFilesAnnounce }
func (RegistrySnapshot) Kind() Kind      { return KindRegistrySnapshot }
func (PeerDirectorySnapshot) Kind() Kind { return KindPeerDirectorySnapshot }
func (ChunkAcquired) Kind() Kind         { return KindChunkAcquired }
func (NewPeerJoined) Kind() Kind         { return KindNewPeerJoined }
func (FilesAdvertised) Kind() Kind       { return KindFilesAdvertised }
func (PeerDisconnected) Kind() Kind      { return KindPeerDisconnected }
func (ChunkRequest) Kind() Kind          { return KindChunkRequest }
func (ChunkData) Kind() Kind             { return KindChunkData }

func (PortAssignment) sealed()        {}
func (PeerAssignment) sealed()        {}
func (JoinAnnounce) sealed()          {}
func (FilesAnnounce) sealed()         {}
func (RegistrySnapshot) sealed()      {}
func (PeerDirectorySnapshot) sealed() {}
func (ChunkAcquired) sealed()         {}
func (NewPeerJoined) sealed()         {}
func (FilesAdvertised) sealed()       {}
func (PeerDisconnected) sealed()      {}
func (ChunkRequest) sealed()          {}
func (ChunkData) sealed()             {}
