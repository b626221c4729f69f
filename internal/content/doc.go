// Package content produces lesson text for a topic.
//
// A Generator wraps a text Model (Gemini in production, a static model for
// development). It sanitizes the topic, shapes prior lessons into a bounded
// continuity block, asks the model for a fixed five-section lesson, rejects
// malformed answers and converts the result to HTML.
package content
