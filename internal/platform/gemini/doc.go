// Package gemini implements generation.Generator on Google's Gemini API
// through the google.golang.org/genai client. Prompts are rendered from
// text templates, one per task type, and API calls are retried with
// exponential backoff for transient failures. Safety blocks and malformed
// responses are returned immediately.
package gemini
