package decode

import (
	"encoding/xml"

	"github.com/chatarc/chatarc/internal/shard"
)

type voipEnvelope struct {
	XMLName xml.Name `xml:"msg"`
	VoIP    struct {
		Bubble struct {
			RoomType string `xml:"roomtype"`
			Msg      string `xml:"msg"`
		} `xml:"VoIPBubbleMsg"`
	} `xml:"voipmsg"`
}

// Room type 0 is a video call, anything else audio-only.
func decodeVoip(m *ParsedMessage, row *shard.MessageRow) {
	m.Kind = KindVoip
	var env voipEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err != nil {
		m.Content = "[call]"
		return
	}
	label := "[voice call]"
	if atoi(env.VoIP.Bubble.RoomType) == 0 {
		label = "[video call]"
	}
	if text := stripTags(env.VoIP.Bubble.Msg); text != "" {
		m.Content = label + " " + text
		return
	}
	m.Content = label
}
