package mqtt

import "testing"

func payloads(msgs []bufferedMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestRingBuffer(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushes   int
		want     []byte
	}{
		{"empty", 4, 0, nil},
		{"partial", 4, 3, []byte{0, 1, 2}},
		{"full", 4, 4, []byte{0, 1, 2, 3}},
		{"overflow keeps newest", 4, 7, []byte{3, 4, 5, 6}},
		{"wraps twice", 3, 8, []byte{5, 6, 7}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rb := newRingBuffer(tt.capacity)
			for i := 0; i < tt.pushes; i++ {
				rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}})
			}
			if rb.len() != len(tt.want) {
				t.Errorf("len: got %d, want %d", rb.len(), len(tt.want))
			}
			got := payloads(rb.drainAll())
			if string(got) != string(tt.want) {
				t.Errorf("drain: got %v, want %v", got, tt.want)
			}
			if rb.len() != 0 || rb.drainAll() != nil {
				t.Error("buffer should be empty after drain")
			}
		})
	}
}

func TestRingBufferReuseAfterDrain(t *testing.T) {
	rb := newRingBuffer(2)
	for i := 0; i < 5; i++ {
		rb.push(bufferedMsg{payload: []byte{byte(i)}})
	}
	rb.drainAll()

	rb.push(bufferedMsg{payload: []byte{9}})
	got := payloads(rb.drainAll())
	if string(got) != string([]byte{9}) {
		t.Errorf("got %v, want [9]", got)
	}
}

func TestRingBufferKeepsFields(t *testing.T) {
	rb := newRingBuffer(2)
	rb.push(bufferedMsg{topic: "a/system", payload: []byte("x"), qos: 1, retained: true})
	got := rb.drainAll()[0]
	if got.topic != "a/system" || got.qos != 1 || !got.retained {
		t.Errorf("fields lost: %+v", got)
	}
}
