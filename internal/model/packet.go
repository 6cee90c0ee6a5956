package model

// Point is a single (timestamp, value) measurement in a series.
// Timestamps are epoch milliseconds, matching the wire format.
type Point struct {
	TS    int64   `json:"ts"`
	Value float64 `json:"value"`
}

// PacketMeta is the metadata block every packet must carry.
type PacketMeta struct {
	Timestamp  int64  `json:"timestamp"`  // epoch ms
	SequenceID int64  `json:"sequenceId"` // monotonically increasing per session
	SessionTag string `json:"sessionTag,omitempty"`
}

// DataPacket is one atomic unit of incoming market data: a metadata block
// plus named series groups, each group mapping series names to point lists.
// Packets are immutable once parsed and consumed exactly once by the pipeline.
type DataPacket struct {
	Meta   PacketMeta
	Groups map[string]map[string][]Point
}

// SeriesKey builds the buffer key for a series within a group.
func SeriesKey(group, series string) string {
	return group + ":" + series
}
