package protocol

import "time"

// ChatCommand is a text command addressed to the assistant.
type ChatCommand struct {
	Channel   string    `json:"channel"`
	User      string    `json:"user"`
	Command   string    `json:"command"` // chat, join, leave, stop
	Text      string    `json:"text,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatReply is any text the assistant sends back to a channel.
type ChatReply struct {
	Channel   string    `json:"channel"`
	Text      string    `json:"text"`
	Error     bool      `json:"error,omitempty"`
	TraceID   string    `json:"trace_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	CommandChat  = "chat"
	CommandJoin  = "join"
	CommandLeave = "leave"
	CommandStop  = "stop"
)

// AudioChunk carries a slice of a WAV file to a remote speaker.
type AudioChunk struct {
	PlaybackID string `json:"playback_id"`
	Speaker    string `json:"speaker"`
	Sequence   int    `json:"sequence"`
	Data       []byte `json:"data"`
	Final      bool   `json:"final"`
}

// PlaybackStatus is published by a remote speaker when a playback ends.
type PlaybackStatus struct {
	PlaybackID string    `json:"playback_id"`
	Speaker    string    `json:"speaker"`
	Completed  bool      `json:"completed"`
	Stopped    bool      `json:"stopped,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// SpeakerAnnounce is published by a remote speaker when it comes online and
// periodically afterwards as a heartbeat.
type SpeakerAnnounce struct {
	Speaker   string    `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectChatCommand = "chat.command"
	SubjectChatReply   = "chat.reply"

	SubjectSpeakerAnnounce        = "speaker.announce"
	SubjectSpeakerHeartbeatPrefix = "speaker.heartbeat"
	SubjectSpeakerAudioPrefix     = "speaker.audio"
	SubjectSpeakerStopPrefix      = "speaker.stop"
	SubjectSpeakerStatusPrefix    = "speaker.status"
)

func SpeakerAudioSubject(speaker string) string  { return SubjectSpeakerAudioPrefix + "." + speaker }
func SpeakerStopSubject(speaker string) string   { return SubjectSpeakerStopPrefix + "." + speaker }
func SpeakerStatusSubject(speaker string) string { return SubjectSpeakerStatusPrefix + "." + speaker }
func SpeakerHeartbeatSubject(speaker string) string {
	return SubjectSpeakerHeartbeatPrefix + "." + speaker
}
