package decode

import (
	"encoding/xml"

	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/shard"
)

// Rich-envelope inner type codes (<appmsg><type>).
const (
	appText        = 1
	appLink        = 5
	appFile        = 6
	appSticker     = 8
	appHistory     = 19
	appMiniApp     = 33
	appMiniAppWide = 36
	appQuote       = 57
	appTransfer    = 2000
	appRedPacket   = 2001
)

type appMsgEnvelope struct {
	XMLName      xml.Name `xml:"msg"`
	AppMsg       appMsg   `xml:"appmsg"`
	FromUsername string   `xml:"fromusername"`
}

type appMsg struct {
	Title  string     `xml:"title"`
	Des    string     `xml:"des"`
	Type   string     `xml:"type"`
	URL    string     `xml:"url"`
	MD5    string     `xml:"md5"`
	Attach appAttach  `xml:"appattach"`
	Refer  *referMsg  `xml:"refermsg"`
	WeApp  *weAppInfo `xml:"weappinfo"`
	Pay    *wcPayInfo `xml:"wcpayinfo"`
}

type appAttach struct {
	TotalLen     string `xml:"totallen"`
	FileExt      string `xml:"fileext"`
	FileMD5      string `xml:"filemd5"`
	EmoticonMD5  string `xml:"emoticonmd5"`
	AttachID     string `xml:"attachid"`
	CdnAttachURL string `xml:"cdnattachurl"`
}

type referMsg struct {
	Type        string `xml:"type"`
	DisplayName string `xml:"displayname"`
	Content     string `xml:"content"`
}

type weAppInfo struct {
	PagePath          string `xml:"pagepath"`
	SourceDisplayName string `xml:"sourcedisplayname"`
}

type wcPayInfo struct {
	PaySubtype    string `xml:"paysubtype"`
	FeeDesc       string `xml:"feedesc"`
	PayMemo       string `xml:"pay_memo"`
	SenderTitle   string `xml:"sendertitle"`
	ReceiverTitle string `xml:"receivertitle"`
	SenderDes     string `xml:"senderdes"`
	ReceiverDes   string `xml:"receiverdes"`
}

// decodeAppMsg parses the rich envelope and sub-dispatches on its inner type
// tag. Numeric fields are kept as strings in the structs because real
// payloads carry empty elements where numbers belong.
func decodeAppMsg(m *ParsedMessage, row *shard.MessageRow, group bool) {
	var env appMsgEnvelope
	if err := xml.Unmarshal([]byte(row.Content), &env); err != nil {
		m.Kind = KindText
		m.Content = genericLabel(row.Type)
		return
	}
	overrideSender(m, group, env.FromUsername)

	app := env.AppMsg
	switch atoi(app.Type) {
	case appText:
		m.Kind = KindText
		m.Content = firstNonEmpty(app.Title, app.Des)

	case appLink:
		m.Kind = KindLink
		m.Title = app.Title
		m.URL = app.URL
		m.Content = firstNonEmpty(app.Title, "[link]")
		// Link cards sometimes have an indexed thumbnail; worth a lookup
		// but never a missing-media report.
		m.addOptionalMedia(media.KindImage, "", "")

	case appFile:
		m.Kind = KindFile
		m.Content = "[file]"
		m.FileName = app.Title
		m.FileSize = atoi64(app.Attach.TotalLen)
		m.MD5 = media.NormalizeHash(app.Attach.FileMD5)
		m.FileID = app.Attach.AttachID
		m.addMedia(media.KindFile, m.MD5, m.FileID)

	case appSticker:
		m.Kind = KindEmoji
		m.Content = "[sticker]"
		m.MD5 = media.NormalizeHash(firstNonEmpty(app.Attach.EmoticonMD5, app.MD5))
		m.URL = app.Attach.CdnAttachURL
		m.addMedia(media.KindEmoji, m.MD5, "")

	case appHistory:
		m.Kind = KindText
		m.Title = app.Title
		m.Content = firstNonEmpty(app.Des, app.Title, "[chat history]")

	case appMiniApp, appMiniAppWide:
		m.Kind = KindLink
		m.URL = firstNonEmpty(app.URL, weAppPath(app.WeApp))
		m.Title = firstNonEmpty(weAppName(app.WeApp), app.Title)
		m.Content = firstNonEmpty(m.Title, "[mini program]")

	case appQuote:
		m.Kind = KindQuote
		m.Content = firstNonEmpty(app.Title, "[quote]")
		if app.Refer != nil {
			m.QuoteTitle = app.Refer.DisplayName
			m.QuoteContent = app.Refer.Content
		}

	case appTransfer:
		m.Kind = KindTransfer
		m.Content = "[transfer]"
		if app.Pay != nil {
			m.Amount = app.Pay.FeeDesc
			m.Title = app.Pay.PayMemo
			m.TransferStatus = transferStatus(app.Pay, m.IsSender)
		}

	case appRedPacket:
		m.Kind = KindRedPacket
		m.Content = "[red packet]"
		if app.Pay != nil {
			m.Title = firstNonEmpty(app.Pay.SenderTitle, app.Pay.ReceiverTitle)
			m.Amount = app.Pay.FeeDesc
		}

	default:
		m.Kind = KindText
		m.Content = firstNonEmpty(app.Title, app.Des, genericLabel(row.Type))
		m.URL = app.URL
	}
}

func weAppPath(w *weAppInfo) string {
	if w == nil {
		return ""
	}
	return w.PagePath
}

func weAppName(w *weAppInfo) string {
	if w == nil {
		return ""
	}
	return w.SourceDisplayName
}
