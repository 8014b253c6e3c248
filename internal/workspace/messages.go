package workspace

import (
	"errors"
	"fmt"
	"strings"

	"excelanalyst/internal/service/ai"
	"excelanalyst/internal/sheet"
)

type catalog struct {
	welcome       string
	truncated     string
	failed        string
	unsupported   string
	emptySheet    string
	unreadable    string
	tooLarge      string
	sessionFailed string
	sendFailed    string
	sendTimeout   string
}

var catalogs = map[string]catalog{
	"tr": {
		welcome:       "**%s** dosyası yüklendi. %d satır ve %d sütun (%s) analize hazır.\n\nVeriler hakkında soru sorabilir, özet isteyebilir veya grafik çizdirebilirsiniz.",
		truncated:     "\n\n_Not: modele yalnızca ilk %d satır gönderildi._",
		failed:        "Dosya işlenirken bir hata oluştu. Lütfen geçerli bir Excel veya CSV dosyası yükleyin.",
		unsupported:   "Desteklenmeyen dosya biçimi. Lütfen .xlsx, .xls veya .csv dosyası yükleyin.",
		emptySheet:    "Dosyada analiz edilecek veri bulunamadı.",
		unreadable:    "Dosya okunamadı. Dosyanın bozuk olmadığından emin olun.",
		tooLarge:      "Dosya çok büyük.",
		sessionFailed: "Yapay zeka oturumu başlatılamadı. Lütfen tekrar deneyin.",
		sendFailed:    "Yanıt alınamadı. Mesajınızı tekrar gönderebilirsiniz.",
		sendTimeout:   "Yanıt zaman aşımına uğradı. Mesajınızı tekrar gönderebilirsiniz.",
	},
	"en": {
		welcome:       "Loaded **%s**. %d rows and %d columns (%s) are ready for analysis.\n\nAsk questions about the data, request a summary or ask for a chart.",
		truncated:     "\n\n_Note: only the first %d rows were sent to the model._",
		failed:        "Something went wrong while processing the file. Please upload a valid Excel or CSV file.",
		unsupported:   "Unsupported file format. Please upload an .xlsx, .xls or .csv file.",
		emptySheet:    "The file contains no data to analyse.",
		unreadable:    "The file could not be read. Make sure it is not corrupted.",
		tooLarge:      "The file is too large.",
		sessionFailed: "Could not start the AI session. Please try again.",
		sendFailed:    "No reply received. You can send your message again.",
		sendTimeout:   "The reply timed out. You can send your message again.",
	},
}

func catalogFor(locale string) catalog {
	if c, ok := catalogs[strings.ToLower(locale)]; ok {
		return c
	}
	return catalogs["tr"]
}

func (c catalog) welcomeText(fileName string, rows int, headers []string) string {
	text := fmt.Sprintf(c.welcome, fileName, rows, len(headers), strings.Join(headers, ", "))
	if rows > sheet.MaxContextRows {
		text += fmt.Sprintf(c.truncated, sheet.MaxContextRows)
	}
	return text
}

// uploadNotice picks the most specific message for a failed upload and falls
// back to the generic one.
func (c catalog) uploadNotice(err error) string {
	var initErr *ai.InitError
	switch {
	case errors.Is(err, sheet.ErrUnsupportedFormat):
		return c.unsupported
	case errors.Is(err, sheet.ErrEmptySheet):
		return c.emptySheet
	case errors.Is(err, sheet.ErrUnreadable):
		return c.unreadable
	case errors.Is(err, sheet.ErrTooLarge):
		return c.tooLarge
	case errors.As(err, &initErr):
		return c.sessionFailed
	default:
		return c.failed
	}
}

func (c catalog) sendNotice(err error) string {
	if ai.IsTimeout(err) {
		return c.sendTimeout
	}
	return c.sendFailed
}
