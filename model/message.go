package model

// Message represents a single email fetched from the server, identified by its
// sequence number in the selected mailbox.
type Message struct {
	SeqNum uint32
	Size   int64
	Raw    []byte
}
