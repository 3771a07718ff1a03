package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeTXT creates the TXT records for info.
func EncodeTXT(info Info) TXTRecordMap {
	return TXTRecordMap{
		TXTKeyDevice:  info.Device,
		TXTKeyItem:    info.Item,
		TXTKeyVersion: strconv.Itoa(info.Version),
	}
}

// DecodeTXT parses controller TXT records. All keys are required.
func DecodeTXT(txt TXTRecordMap) (Info, error) {
	var info Info
	var ok bool

	if info.Device, ok = txt[TXTKeyDevice]; !ok || info.Device == "" {
		return Info{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDevice)
	}
	if info.Item, ok = txt[TXTKeyItem]; !ok || info.Item == "" {
		return Info{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyItem)
	}
	v, ok := txt[TXTKeyVersion]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyVersion)
	}
	ver, err := strconv.Atoi(v)
	if err != nil || ver < 1 {
		return Info{}, fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	info.Version = ver
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	return result
}

// StringsToTXTRecords parses "key=value" strings. Entries without '=' are
// kept as keys with an empty value.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		txt[k] = v
	}
	return txt
}

// ValidateInstanceName checks the DNS label limit.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: instance name", ErrMissingRequired)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
