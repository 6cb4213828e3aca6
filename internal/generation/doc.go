// Package generation defines the boundary between the task executor and the
// language-model services that write content. The executor depends only on
// the Generator interface; adapters such as the Gemini client live under
// internal/platform.
package generation
