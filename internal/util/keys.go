package util

import "strings"

// StorageKey isolates a user key inside a namespace: "<ns>:<key>".
func StorageKey(ns, key string) string {
	return ns + ":" + key
}

// Prefix is the storage prefix shared by every key in ns.
func Prefix(ns string) string {
	return ns + ":"
}

// UserKey strips the namespace prefix. ok is false for keys outside ns.
func UserKey(ns, storageKey string) (string, bool) {
	p := Prefix(ns)
	if !strings.HasPrefix(storageKey, p) {
		return "", false
	}
	return storageKey[len(p):], true
}
