package broker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQoS(t *testing.T) {
	tests := []struct {
		in      int
		want    QoS
		wantErr bool
	}{
		{0, AtMostOnce, false},
		{1, AtLeastOnce, false},
		{2, ExactlyOnce, false},
		{3, 0, true},
		{-1, 0, true},
	}
	for _, tc := range tests {
		got, err := ParseQoS(tc.in)
		if tc.wantErr {
			assert.True(t, errors.Is(err, ErrInvalidQoS))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestQoSAcknowledged(t *testing.T) {
	assert.False(t, AtMostOnce.Acknowledged())
	assert.True(t, AtLeastOnce.Acknowledged())
	assert.True(t, ExactlyOnce.Acknowledged())
}

func TestMessageValidate(t *testing.T) {
	assert.Equal(t, ErrEmptyTopic, Message{}.Validate())
	assert.Equal(t, ErrInvalidQoS, Message{Topic: "a", QoS: 7}.Validate())
	assert.NoError(t, Message{Topic: "a", QoS: ExactlyOnce}.Validate())
}

func TestMessageClone(t *testing.T) {
	m := Message{Topic: "room/1", Payload: []byte("hi"), QoS: AtLeastOnce}
	c := m.Clone()
	c.Payload[0] = 'H'
	assert.Equal(t, "hi", string(m.Payload))
	assert.False(t, m.Equal(c))
}

func TestInboundTopicName(t *testing.T) {
	tests := []struct {
		name string
		in   Inbound
		want string
	}{
		{"explicit length", Inbound{Topic: []byte("room/1garbage"), TopicLen: 6}, "room/1"},
		{"embedded zero", Inbound{Topic: []byte("a\x00b"), TopicLen: 3}, "a\x00b"},
		{"zero length scans terminator", Inbound{Topic: []byte("room/2\x00junk")}, "room/2"},
		{"zero length no terminator", Inbound{Topic: []byte("room/3")}, "room/3"},
		{"length past buffer", Inbound{Topic: []byte("ab"), TopicLen: 10}, "ab"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.in.TopicName())
		})
	}
}

func TestInboundMessageCopiesPayload(t *testing.T) {
	payload := []byte{'x', 0, 'y'}
	in := Inbound{Topic: []byte("t"), TopicLen: 1, Payload: payload, QoS: ExactlyOnce, Retained: true}
	m := in.Message()
	payload[0] = 'z'

	assert.Equal(t, []byte{'x', 0, 'y'}, m.Payload)
	assert.Equal(t, ExactlyOnce, m.QoS)
	assert.True(t, m.Retained)
}
