// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

// Content-format registry values used by spec.md §4.1's string<->int
// mapping table.
const (
	TextPlain      uint32 = 0
	AppLinkFormat  uint32 = 40
	AppXML         uint32 = 41
	AppOctetStream uint32 = 42
	AppEXI         uint32 = 47
	AppJSON        uint32 = 50
	AppCBOR        uint32 = 60
)

var contentFormatByName = map[string]uint32{
	"text/plain":               TextPlain,
	"application/link-format":  AppLinkFormat,
	"application/xml":          AppXML,
	"application/octet-stream": AppOctetStream,
	"application/exi":          AppEXI,
	"application/json":         AppJSON,
	"application/cbor":         AppCBOR,
}

var nameByContentFormat = func() map[uint32]string {
	m := make(map[uint32]string, len(contentFormatByName))
	for name, v := range contentFormatByName {
		m[v] = name
	}
	return m
}()

// ContentFormatByName maps a MIME string to its registered numeric
// content-format, per spec.md's fixed table.
func ContentFormatByName(name string) (uint32, bool) {
	v, ok := contentFormatByName[name]
	return v, ok
}

// ContentFormatName maps a registered numeric content-format back to
// its MIME string.
func ContentFormatName(v uint32) (string, bool) {
	name, ok := nameByContentFormat[v]
	return name, ok
}
