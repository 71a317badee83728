// Package qr turns uploaded images into attendance claims: pixel decoding in
// both polarities, then shape classification of the decoded text.
package qr

import (
	"bytes"
	"encoding/json"
	"image"
	"regexp"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"attendance/internal/attendance"
)

// DecodeImage extracts QR text from image bytes. Inverted-contrast codes
// (light modules on dark) are retried on an inverted copy of the image.
func DecodeImage(data []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return "", attendance.Reject(attendance.ReasonNoCodeFound, "could not read image")
	}

	reader := qrcode.NewQRCodeReader()
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}

	for _, candidate := range []image.Image{img, imaging.Invert(img)} {
		bmp, err := gozxing.NewBinaryBitmapFromImage(candidate)
		if err != nil {
			continue
		}
		if result, err := reader.Decode(bmp, hints); err == nil {
			return result.GetText(), nil
		}
	}
	return "", attendance.Reject(attendance.ReasonNoCodeFound, "no QR code detected in image")
}

var (
	internalIDShape = regexp.MustCompile(`^[0-9a-f]{24}$`)
	phoneShape      = regexp.MustCompile(`^08[0-9]{8,11}$`)
)

// bare-text rules, first match wins.
var textRules = []struct {
	match func(string) bool
	build func(string) attendance.Claim
}{
	{
		match: internalIDShape.MatchString,
		build: func(s string) attendance.Claim { return attendance.Claim{UserID: s} },
	},
	{
		match: phoneShape.MatchString,
		build: func(s string) attendance.Claim { return attendance.Claim{Phone: s} },
	},
}

// ParseText interprets decoded QR text as a claim. Structured JSON claims are
// tried first; bare text is classified against the internal-id shape, then
// the phone shape. Unusable payloads reject undecodable, distinct from
// no_code_found.
func ParseText(text string) (attendance.Claim, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return attendance.Claim{}, attendance.Reject(attendance.ReasonUndecodable, "empty QR payload")
	}

	if strings.HasPrefix(text, "{") {
		var claim attendance.Claim
		if err := json.Unmarshal([]byte(text), &claim); err == nil {
			if claim.Type != "" && claim.Type != attendance.ClaimType {
				return attendance.Claim{}, attendance.Reject(attendance.ReasonUndecodable, "QR payload is not an attendance claim")
			}
			claim.Method = attendance.MethodQRCode
			return claim, nil
		}
	}

	for _, rule := range textRules {
		if rule.match(text) {
			claim := rule.build(text)
			claim.Method = attendance.MethodQRCode
			return claim, nil
		}
	}
	return attendance.Claim{}, attendance.Reject(attendance.ReasonUndecodable, "QR payload not recognized")
}
