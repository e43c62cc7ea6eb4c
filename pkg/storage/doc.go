// Copyright © 2018 One Concern

// Package storage provides an interface to handle local storage objects.
//
// keel uses it to cache blobs pulled from a registry, keyed by digest.
//
// This package supports the following backends:
//   - local file system (any afero.Fs), with an atomic variant safe for concurrent writers
package storage
