package mail

import (
	"fmt"
	"strings"

	"github.com/eloraa/drive/internal/geo"
)

const (
	// Subject はマジックリンクメールの件名。
	Subject = "Sign in to Drive"

	logoContentID = "logo.drive"
	logoFilename  = "drive.png"
)

// magicLinkContent は本文に差し込む値。
type magicLinkContent struct {
	URL          string
	Identifier   string
	IP           string
	Geo          geo.GeoInfo
	ValidMinutes int
}

// LocationClause は判明している都市・国から "located in ..." 句を組み立てる。
// どちらも不明な場合は空文字列を返す。
func LocationClause(g geo.GeoInfo) string {
	parts := make([]string, 0, 2)
	if g.City != "" {
		parts = append(parts, g.City)
	}
	if g.Country != "" {
		parts = append(parts, g.Country)
	}
	if len(parts) == 0 {
		return ""
	}
	return "located in " + strings.Join(parts, ", ")
}

// originSentence は送信元IPと位置情報の一文。
func originSentence(ip, location string) string {
	if location == "" {
		return fmt.Sprintf("This code was sent from %s. If you were not expecting this email, you can ignore this email.", ip)
	}
	return fmt.Sprintf("This code was sent from %s %s. If you were not expecting this email, you can ignore this email.", ip, location)
}

func renderText(c magicLinkContent) string {
	return fmt.Sprintf(
		"You've requested to sign in to Drive with the following email address (%s)\n%s\n\nNote: This link will only be valid for the next %d minutes.\n\n%s",
		c.Identifier, c.URL, c.ValidMinutes, originSentence(c.IP, LocationClause(c.Geo)),
	)
}

// renderHTML はHTML本文を組み立てる。escは差し込む値のエスケープ関数。
func renderHTML(c magicLinkContent, esc func(string) string) string {
	location := ""
	if clause := LocationClause(c.Geo); clause != "" {
		location = fmt.Sprintf(` located in <span style="color:#000000">%s</span>`, esc(strings.TrimPrefix(clause, "located in ")))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
  <head><meta http-equiv="Content-Type" content="text/html; charset=UTF-8" /></head>
  <body style="background-color:#ffffff;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Helvetica,Arial,sans-serif;padding:0 10px">
    <table align="center" width="100%%" border="0" cellpadding="0" cellspacing="0" role="presentation" style="max-width:560px;margin:0 auto;padding:20px 0 48px">
      <tbody><tr><td>
        <div style="text-align:center"><img src="cid:%s" alt="Drive" width="45" height="45" style="display:inline-block;border:none;width:45px;height:45px" /></div>
        <h1 style="font-size:24px;text-align:center;font-weight:400;color:#000000;padding:8px 0 0">Your magic link to sign in to <span style="font-weight:500">Drive</span></h1>
        <table align="center" width="100%%" border="0" cellpadding="0" cellspacing="0" role="presentation" style="padding:10px 0 27px">
          <tbody><tr><td>
            <a href="%s" target="_blank" style="display:block;background-color:#000000;border-radius:3px;font-weight:600;color:#ffffff;font-size:15px;text-align:center;text-decoration:none;padding:11px 23px">Sign in</a>
          </td></tr></tbody>
        </table>
        <p style="font-size:14px;line-height:24px;margin:6px 0;color:#000000">You've requested to sign in to <span style="font-weight:500">Drive</span> with the following email address (<span style="color:#7b1cf0">%s</span>)</p>
        <p style="font-size:14px;line-height:1.4;margin:0 0 15px;color:#000000">This link will only be valid for the next %d minutes.</p>
        <hr style="width:100%%;border:none;border-top:1px solid #eaeaea;margin:26px 0" />
        <p style="font-size:12px;line-height:24px;margin:16px 0;color:#666666">This code was sent from <span style="color:#000000">%s</span>%s. If you were not expecting this email, you can ignore this email.</p>
      </td></tr></tbody>
    </table>
  </body>
</html>
`, logoContentID, esc(c.URL), esc(c.Identifier), c.ValidMinutes, esc(c.IP), location)
}
