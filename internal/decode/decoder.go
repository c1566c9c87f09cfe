package decode

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/shard"
)

// Message type codes as stored in the local_type column.
const (
	typeText         = 1
	typeImage        = 3
	typeVoice        = 34
	typeVideo        = 43
	typeEmoji        = 47
	typeAppMsg       = 49
	typeVoip         = 50
	typeVideoVariant = 62
	typeSystem       = 10000
	typeSystemXML    = 10002
)

// Decode maps one row to exactly one ParsedMessage. It is total: whatever
// the type code or payload, the result has a non-empty kind and content.
func Decode(row *shard.MessageRow, isGroup bool) *ParsedMessage {
	m := &ParsedMessage{Row: row, Sender: row.Sender, IsSender: row.IsSender}

	switch row.Type {
	case typeText:
		m.Kind = KindText
		m.Content = row.Content
	case typeImage:
		decodeImage(m, row)
	case typeVoice:
		decodeVoice(m, row, isGroup)
	case typeVideo, typeVideoVariant:
		decodeVideo(m, row, isGroup)
	case typeEmoji:
		decodeEmoji(m, row, isGroup)
	case typeAppMsg:
		decodeAppMsg(m, row, isGroup)
	case typeVoip:
		decodeVoip(m, row)
	case typeSystem:
		decodeSystem(m, row)
	case typeSystemXML:
		decodeSystemXML(m, row)
	default:
		decodeFallback(m, row, isGroup)
	}

	if m.Kind == "" {
		m.Kind = KindText
	}
	if m.Content == "" {
		m.Content = genericLabel(row.Type)
	}
	return m
}

func genericLabel(typ int) string {
	return fmt.Sprintf("[type %d]", typ)
}

// overrideSender applies an envelope-embedded sender identity. It outranks
// the payload prefix but never an outgoing attribution, and only applies in
// group context where the row-level sender is ambiguous.
func overrideSender(m *ParsedMessage, group bool, from string) {
	if group && from != "" && !m.IsSender {
		m.Sender = from
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

type imgEnvelope struct {
	XMLName xml.Name `xml:"msg"`
	Img     struct {
		MD5         string `xml:"md5,attr"`
		FileMD5     string `xml:"filemd5,attr"`
		FileID      string `xml:"fileid,attr"`
		CdnMidURL   string `xml:"cdnmidimgurl,attr"`
		CdnBigURL   string `xml:"cdnbigimgurl,attr"`
		CdnThumbURL string `xml:"cdnthumburl,attr"`
	} `xml:"img"`
	MD5Tag string `xml:"md5"`
}

// Hash attribute priority for images: img@md5, img@filemd5, then a <md5>
// element some generations emit at the envelope level.
func decodeImage(m *ParsedMessage, row *shard.MessageRow) {
	m.Kind = KindImage
	m.Content = "[image]"
	var env imgEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err == nil {
		m.MD5 = media.NormalizeHash(firstNonEmpty(env.Img.MD5, env.Img.FileMD5, env.MD5Tag))
		m.URL = firstNonEmpty(env.Img.CdnMidURL, env.Img.CdnBigURL, env.Img.CdnThumbURL)
		m.FileID = env.Img.FileID
	}
	m.addMedia(media.KindImage, m.MD5, m.FileID)
}

type voiceEnvelope struct {
	XMLName  xml.Name `xml:"msg"`
	VoiceMsg struct {
		VoiceLength  string `xml:"voicelength,attr"`
		ClientMsgID  string `xml:"clientmsgid,attr"`
		FromUsername string `xml:"fromusername,attr"`
	} `xml:"voicemsg"`
}

func decodeVoice(m *ParsedMessage, row *shard.MessageRow, group bool) {
	m.Kind = KindVoice
	m.Content = "[voice]"
	var env voiceEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err == nil {
		// voicelength is milliseconds; round up so a 300ms clip is 1s.
		if ms := atoi(env.VoiceMsg.VoiceLength); ms > 0 {
			m.Duration = (ms + 999) / 1000
		}
		m.FileID = env.VoiceMsg.ClientMsgID
		overrideSender(m, group, env.VoiceMsg.FromUsername)
	}
	m.addMedia(media.KindVoice, "", m.FileID)
}

type videoEnvelope struct {
	XMLName  xml.Name `xml:"msg"`
	VideoMsg struct {
		MD5          string `xml:"md5,attr"`
		NewMD5       string `xml:"newmd5,attr"`
		RawMD5       string `xml:"rawmd5,attr"`
		ThumbMD5     string `xml:"thumbmd5,attr"`
		FileID       string `xml:"fileid,attr"`
		CdnVideoURL  string `xml:"cdnvideourl,attr"`
		PlayLength   string `xml:"playlength,attr"`
		FromUsername string `xml:"fromusername,attr"`
	} `xml:"videomsg"`
}

func decodeVideo(m *ParsedMessage, row *shard.MessageRow, group bool) {
	m.Kind = KindVideo
	m.Content = "[video]"
	var env videoEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err == nil {
		v := env.VideoMsg
		m.MD5 = media.NormalizeHash(firstNonEmpty(v.RawMD5, v.MD5, v.NewMD5))
		m.ThumbMD5 = media.NormalizeHash(v.ThumbMD5)
		m.URL = v.CdnVideoURL
		m.FileID = v.FileID
		m.Duration = atoi(v.PlayLength)
		overrideSender(m, group, v.FromUsername)
	}
	m.addMedia(media.KindVideo, m.MD5, m.FileID)
	// The thumbnail rides along; its absence is not worth a missing-media
	// report when the full video resolves.
	m.addOptionalMedia(media.KindVideoThumb, m.ThumbMD5, "")
}

type emojiEnvelope struct {
	XMLName xml.Name `xml:"msg"`
	Emoji   struct {
		MD5          string `xml:"md5,attr"`
		ExternMD5    string `xml:"externmd5,attr"`
		CdnURL       string `xml:"cdnurl,attr"`
		ExternURL    string `xml:"externurl,attr"`
		EncryptURL   string `xml:"encrypturl,attr"`
		FromUsername string `xml:"fromusername,attr"`
	} `xml:"emoji"`
}

func decodeEmoji(m *ParsedMessage, row *shard.MessageRow, group bool) {
	m.Kind = KindEmoji
	m.Content = "[sticker]"
	var env emojiEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err == nil {
		e := env.Emoji
		m.MD5 = media.NormalizeHash(firstNonEmpty(e.MD5, e.ExternMD5))
		m.URL = firstNonEmpty(e.CdnURL, e.ExternURL, e.EncryptURL)
		overrideSender(m, group, e.FromUsername)
	}
	m.addMedia(media.KindEmoji, m.MD5, "")
}

var (
	titleRe = regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`)
	desRe   = regexp.MustCompile(`(?s)<des[^>]*>(.*?)</des>`)
)

func extractTag(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return cleanText(m[1])
}

func cleanText(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return unescape(strings.TrimSpace(s))
}

// decodeFallback is the best-effort path for type codes outside the
// dispatch table. Rich envelopes recurse; other markup yields its title or
// description; plain payloads pass through as text.
func decodeFallback(m *ParsedMessage, row *shard.MessageRow, group bool) {
	if strings.Contains(row.Content, "<appmsg") {
		decodeAppMsg(m, row, group)
		return
	}
	m.Kind = KindText
	if strings.Contains(row.Content, "<") {
		if t := extractTag(titleRe, row.Content); t != "" {
			m.Content = t
			return
		}
		if d := extractTag(desRe, row.Content); d != "" {
			m.Content = d
			return
		}
		m.Content = genericLabel(row.Type)
		return
	}
	m.Content = row.Content
}
