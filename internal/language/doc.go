// Package language maps the language codes and names operators write in
// configuration and project context onto the ISO 639-1 codes the normalizer
// works with.
package language
