package mail

import (
	"bytes"
	htmltemplate "html/template"
	"io"
	"strings"
	texttemplate "text/template"
	"time"
)

const newsletterHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=UTF-8" />
</head>
<body style="background-color:#fff;margin:0 auto;font-family:ui-sans-serif,system-ui,-apple-system,Segoe UI,Roboto,Helvetica Neue,Arial,sans-serif;padding:.5rem">
  <table align="center" width="100%" role="presentation" cellspacing="0" cellpadding="0" border="0" style="max-width:100%;border-radius:.375rem;margin:40px auto;padding:20px;width:550px;border:1px solid rgb(14,116,144)">
    <tbody>
      <tr><td>
        <p style="font-size:14px;line-height:24px;margin:16px 0;color:rgb(107,114,128)">{{.SiteName}} has published a new story</p>
        <h1 style="font-size:20px;text-align:center">{{.Headline}}</h1>
        {{if .Thumbnail}}<img src="{{.Thumbnail}}" alt="" style="display:block;max-width:100%;margin:0 auto;border-radius:.25rem" />{{end}}
        {{if .Snippet}}<p style="font-size:14px;line-height:24px;margin:16px 0"><em>{{.Snippet}}</em></p>{{end}}
        <p style="font-size:14px;line-height:24px;margin:16px 0">{{.Excerpt}}</p>
        <table align="center" width="100%" role="presentation" border="0" cellpadding="0" cellspacing="0" style="text-align:center;margin:32px 0">
          <tbody><tr><td>
            <a href="{{.StoryURL}}" target="_blank" style="text-decoration:none;display:inline-block;padding:12px 20px;background-color:rgb(14,116,144);border-radius:.25rem;color:#fff;font-size:12px;font-weight:600">Read the full story</a>
          </td></tr></tbody>
        </table>
        <hr style="width:100%;border:none;border-top:1px solid #eaeaea" />
        <p style="font-size:10px;line-height:24px;margin:16px 0;text-align:center;color:rgb(156,163,175)">
          Ref {{.SystemID}}. You receive this because you subscribed to {{.SiteName}}.<br />
          <a href="{{.UnsubscribeURL}}" style="color:rgb(156,163,175)">Unsubscribe</a> · ©{{year}} {{.SiteName}}
        </p>
      </td></tr>
    </tbody>
  </table>
</body>
</html>`

const newsletterText = `New story on {{.SiteName}}: {{.Headline}}

{{.Excerpt}}

Read more: {{.StoryURL}}

To unsubscribe: {{.UnsubscribeURL}}
`

const verifyHTML = `<!DOCTYPE html>
<html lang="en">
<body style="font-family:sans-serif;background:#f5f5f5;padding:20px">
<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:8px;padding:24px">
  <h2 style="color:#333">Confirm your subscription</h2>
  <p>Hello {{.Name}}, thank you for subscribing to {{.SiteName}}. Please confirm your email address:</p>
  <p style="margin-top:24px">
    <a href="{{.VerifyURL}}" style="background:#0e7490;color:#fff;padding:8px 16px;text-decoration:none;border-radius:4px">Verify email</a>
  </p>
  <p style="color:#999;font-size:12px">If you did not request this, ignore this email.</p>
</div>
</body>
</html>`

const verifyText = `Hello {{.Name}},

Thank you for subscribing to {{.SiteName}}. Confirm your email address by opening:

{{.VerifyURL}}

If you did not request this, ignore this email.
`

var (
	funcs = map[string]any{"year": func() int { return time.Now().Year() }}

	newsletterHTMLTpl = htmltemplate.Must(htmltemplate.New("newsletter").Funcs(funcs).Parse(newsletterHTML))
	newsletterTextTpl = texttemplate.Must(texttemplate.New("newsletter").Parse(newsletterText))
	verifyHTMLTpl     = htmltemplate.Must(htmltemplate.New("verify").Parse(verifyHTML))
	verifyTextTpl     = texttemplate.Must(texttemplate.New("verify").Parse(verifyText))
)

// NewsletterData is the data for story notification emails.
type NewsletterData struct {
	SiteName       string
	Headline       string
	Snippet        string
	Excerpt        string
	Thumbnail      string
	SystemID       string
	StoryURL       string
	UnsubscribeURL string
}

// VerifyData is the data for subscription verification emails.
type VerifyData struct {
	SiteName  string
	Name      string
	VerifyURL string
}

// NewsletterSubject is the subject line for a story notification.
func NewsletterSubject(headline string) string {
	return "New Story: " + strings.TrimSpace(headline)
}

// RenderNewsletter renders the subject and both bodies once; the result is
// shared by every recipient.
func RenderNewsletter(data NewsletterData) (Message, error) {
	html, err := render(newsletterHTMLTpl.Execute, data)
	if err != nil {
		return Message{}, err
	}
	text, err := render(newsletterTextTpl.Execute, data)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: NewsletterSubject(data.Headline), HTML: html, Text: text}, nil
}

// RenderVerify renders the verification email addressed to to.
func RenderVerify(to string, data VerifyData) (Message, error) {
	html, err := render(verifyHTMLTpl.Execute, data)
	if err != nil {
		return Message{}, err
	}
	text, err := render(verifyTextTpl.Execute, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: "Confirm your subscription to " + data.SiteName,
		HTML:    html,
		Text:    text,
	}, nil
}

func render(exec func(io.Writer, any) error, data any) (string, error) {
	var buf bytes.Buffer
	if err := exec(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
