package storage

import (
	"chatify/internal/models"
	"encoding"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBIdentity struct {
	Identity string `msgpack:"identity"`
}

func (i *DBIdentity) Key() []byte {
	return []byte(KeyIdentity)
}

func (i *DBIdentity) MarshalBinary() (data []byte, err error) {
	type alias DBIdentity
	return msgpack.Marshal((*alias)(i))
}

func (i *DBIdentity) UnmarshalBinary(data []byte) error {
	type alias DBIdentity
	return msgpack.Unmarshal(data, (*alias)(i))
}

type DBPeer struct {
	Identity string `msgpack:"identity"`
	Handle   string `msgpack:"handle"`
}

func (p *DBPeer) Key() []byte {
	return []byte(KeySelectedPeer)
}

func (p *DBPeer) MarshalBinary() (data []byte, err error) {
	type alias DBPeer
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPeer) UnmarshalBinary(data []byte) error {
	type alias DBPeer
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBMessage struct {
	ID        string `msgpack:"id"`
	From      string `msgpack:"from"`
	To        string `msgpack:"to"`
	Type      string `msgpack:"type"`
	Content   string `msgpack:"message"`
	FileName  string `msgpack:"fileName"`
	FileSize  int64  `msgpack:"fileSize"`
	MimeType  string `msgpack:"mimeType"`
	Time      string `msgpack:"time"`
	Timestamp int64  `msgpack:"timestamp"`
	Status    string `msgpack:"status"`
}

// DBConversationLog holds every conversation of one local identity, keyed by peer.
type DBConversationLog struct {
	Identity string                 `msgpack:"identity"`
	Peers    map[string][]DBMessage `msgpack:"peers"`
}

func (l *DBConversationLog) Key() []byte {
	return []byte(MessagesKey(l.Identity))
}

func (l *DBConversationLog) MarshalBinary() (data []byte, err error) {
	type alias DBConversationLog
	return msgpack.Marshal((*alias)(l))
}

func (l *DBConversationLog) UnmarshalBinary(data []byte) error {
	type alias DBConversationLog
	return msgpack.Unmarshal(data, (*alias)(l))
}

func toDBMessage(m models.Message) DBMessage {
	return DBMessage{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Type:      string(m.Type),
		Content:   m.Content,
		FileName:  m.FileName,
		FileSize:  m.FileSize,
		MimeType:  m.MimeType,
		Time:      m.Time,
		Timestamp: m.Timestamp,
		Status:    string(m.Status),
	}
}

func fromDBMessage(m DBMessage) models.Message {
	return models.Message{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Type:      models.MessageType(m.Type),
		Content:   m.Content,
		FileName:  m.FileName,
		FileSize:  m.FileSize,
		MimeType:  m.MimeType,
		Time:      m.Time,
		Timestamp: m.Timestamp,
		Status:    models.MessageStatus(m.Status),
	}
}
