// Package testsupport provides configuration, store and catalog fixtures
// shared by package tests.
package testsupport
