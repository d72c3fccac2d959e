package abuse

// faultLog is a fixed ring buffer of fault records. When full, the
// oldest record is evicted first.
type faultLog struct {
	records [FaultLogCapacity]FaultRecord
	next    int
	count   int
}

func (l *faultLog) append(r FaultRecord) {
	l.records[l.next] = r
	l.next = (l.next + 1) % FaultLogCapacity
	if l.count < FaultLogCapacity {
		l.count++
	}
}

// snapshot returns the records oldest first.
func (l *faultLog) snapshot() []FaultRecord {
	if l.count == 0 {
		return nil
	}
	out := make([]FaultRecord, 0, l.count)
	start := l.next - l.count
	if start < 0 {
		start += FaultLogCapacity
	}
	for i := 0; i < l.count; i++ {
		out = append(out, l.records[(start+i)%FaultLogCapacity])
	}
	return out
}
