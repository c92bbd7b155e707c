//go:build js && wasm

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"syscall/js"

	"go.uber.org/zap"

	"github.com/kittclouds/storykeep/internal/store"
	"github.com/kittclouds/storykeep/pkg/imagegen"
	"github.com/kittclouds/storykeep/pkg/pool"
	"github.com/kittclouds/storykeep/pkg/response"
	"github.com/kittclouds/storykeep/pkg/session"
	"github.com/kittclouds/storykeep/pkg/transfer"
)

const Version = "0.1.0"

// Global state
var sqlStore *store.SQLiteStore
var sess *session.Session
var generator *imagegen.Client
var logger = zap.NewNop()

func main() {
	fmt.Println("[StoryKeep] WASM Ready v" + Version)

	js.Global().Set("StoryKeep", js.ValueOf(map[string]interface{}{
		"version": js.FuncOf(getVersion),
		"init":    js.FuncOf(initStore),
		"load":    js.FuncOf(load),
		"engine":  js.FuncOf(engine),
		// Books
		"books":             js.FuncOf(books),
		"shelf":             js.FuncOf(shelf),
		"addBook":           js.FuncOf(addBook),
		"renameBook":        js.FuncOf(renameBook),
		"updateBookDetails": js.FuncOf(updateBookDetails),
		"deleteBook":        js.FuncOf(deleteBook),
		// Characters
		"addCharacter":      js.FuncOf(addCharacter),
		"updateCharacter":   js.FuncOf(updateCharacter),
		"setCharacterField": js.FuncOf(setCharacterField),
		"deleteCharacter":   js.FuncOf(deleteCharacter),
		// Notes
		"notes":           js.FuncOf(notes),
		"board":           js.FuncOf(board),
		"notesMentioning": js.FuncOf(notesMentioning),
		"addNote":         js.FuncOf(addNote),
		"updateNote":      js.FuncOf(updateNote),
		"setNoteColor":    js.FuncOf(setNoteColor),
		"deleteNote":      js.FuncOf(deleteNote),
		// Images
		"imageGenInit":      js.FuncOf(imageGenInit),
		"generateImage":     js.FuncOf(generateImage),
		"saveImage":         js.FuncOf(saveImage),
		"characterImage":    js.FuncOf(characterImage),
		"purgeOrphanImages": js.FuncOf(purgeOrphanImages),
		// Export/Import
		"exportJSON": js.FuncOf(exportJSON),
		"importJSON": js.FuncOf(importJSON),
		// OPFS persistence
		"storeExport": js.FuncOf(storeExport),
		"storeImport": js.FuncOf(storeImport),
	}))

	// Keep alive
	select {}
}

func getVersion(this js.Value, args []js.Value) interface{} {
	return Version
}

// Helper: Create error result
func errorResult(msg string) interface{} {
	jsonBytes, _ := json.Marshal(map[string]interface{}{"error": msg})
	return string(jsonBytes)
}

// Helper: Create success result
func successResult(msg string) interface{} {
	jsonBytes, _ := json.Marshal(map[string]interface{}{"success": msg})
	return string(jsonBytes)
}

// Helper: Marshal a value as the result
func jsonResult(v interface{}) interface{} {
	out, err := response.Marshal(v)
	if err != nil {
		return errorResult("marshal failed: " + err.Error())
	}
	return out
}

// browserConfirm asks through window.confirm.
func browserConfirm(prompt string) bool {
	confirm := js.Global().Get("confirm")
	if confirm.Type() != js.TypeFunction {
		return false
	}
	return confirm.Invoke(prompt).Bool()
}

func ready() bool { return sess != nil }

func argString(args []js.Value, i int) string {
	if i >= len(args) || args[i].IsNull() || args[i].IsUndefined() {
		return ""
	}
	return args[i].String()
}

func argInt64(args []js.Value, i int) int64 {
	if i >= len(args) || args[i].Type() != js.TypeNumber {
		return 0
	}
	return int64(args[i].Float())
}

// =============================================================================
// Lifecycle
// =============================================================================

// initStore opens the store and the session.
// Args: [optionsJSON string (optional)] - {cascadeImageDelete, includeNotes, keywordLimit, debug}
func initStore(this js.Value, args []js.Value) interface{} {
	opts := struct {
		CascadeImageDelete bool `json:"cascadeImageDelete"`
		IncludeNotes       bool `json:"includeNotes"`
		KeywordLimit       int  `json:"keywordLimit"`
		Debug              bool `json:"debug"`
	}{KeywordLimit: imagegen.DefaultKeywordLimit}
	if raw := argString(args, 0); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return errorResult("invalid options json: " + err.Error())
		}
	}
	if opts.Debug {
		if l, err := zap.NewDevelopment(); err == nil {
			logger = l
		}
	}

	var err error
	sqlStore, err = store.Open(context.Background(), store.Options{Logger: logger})
	if err != nil {
		return errorResult("failed to initialize SQLite store: " + err.Error())
	}
	sess = session.New(sqlStore, session.Options{
		Logger:               logger,
		CascadeImageDelete:   opts.CascadeImageDelete,
		IncludeNotesInExport: opts.IncludeNotes,
		KeywordLimit:         opts.KeywordLimit,
	})
	fmt.Println("[StoryKeep] ✅ SQLite Store initialized")
	return successResult("store initialized")
}

// load reads everything into the session.
func load(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	if err := sess.Load(context.Background()); err != nil {
		return errorResult("load failed: " + err.Error())
	}
	return successResult(fmt.Sprintf("loaded %d books", len(sess.Books())))
}

func engine(this js.Value, args []js.Value) interface{} {
	if sqlStore == nil {
		return errorResult("store not initialized")
	}
	info, err := sqlStore.Engine(context.Background())
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(info)
}

// =============================================================================
// Books
// =============================================================================

func books(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	return jsonResult(sess.Books())
}

// shelf returns the slim book list for the shelf view.
func shelf(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	return jsonResult(response.FromBooks(sess.Books(), func(charID int64) bool {
		_, ok := sess.CharacterImage(charID)
		return ok
	}))
}

// addBook Args: [title string]
func addBook(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	book, err := sess.AddBook(context.Background(), argString(args, 0))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(book)
}

// renameBook Args: [bookID string, title string]
func renameBook(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("renameBook requires 2 args: bookID, title")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	changed, err := sess.RenameBook(context.Background(), argString(args, 0), argString(args, 1))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"changed": changed})
}

// updateBookDetails Args: [bookID string, detailsJSON string] - {summary?, volume?}
func updateBookDetails(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("updateBookDetails requires 2 args: bookID, detailsJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	var details struct {
		Summary *string `json:"summary"`
		Volume  *int    `json:"volume"`
	}
	if err := json.Unmarshal([]byte(argString(args, 1)), &details); err != nil {
		return errorResult("invalid details json: " + err.Error())
	}
	changed, err := sess.UpdateBookDetails(context.Background(), argString(args, 0), details.Summary, details.Volume)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"changed": changed})
}

// deleteBook Args: [bookID string]. Asks window.confirm first.
func deleteBook(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	deleted, err := sess.DeleteBook(context.Background(), argString(args, 0), browserConfirm)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"deleted": deleted})
}

// =============================================================================
// Characters
// =============================================================================

type characterJSON struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Notes     string `json:"notes"`
	Abilities string `json:"abilities"`
	ArcStage  string `json:"arcStage"`
}

func (c characterJSON) input() session.CharacterInput {
	return session.CharacterInput{
		Name:      c.Name,
		Role:      c.Role,
		Notes:     c.Notes,
		Abilities: c.Abilities,
		ArcStage:  c.ArcStage,
	}
}

// addCharacter Args: [bookID string, characterJSON string]
func addCharacter(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("addCharacter requires 2 args: bookID, characterJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	var in characterJSON
	if err := json.Unmarshal([]byte(argString(args, 1)), &in); err != nil {
		return errorResult("invalid character json: " + err.Error())
	}
	c, err := sess.AddCharacter(context.Background(), argString(args, 0), in.input())
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(c)
}

// updateCharacter Args: [bookID string, charID number, characterJSON string]
func updateCharacter(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return errorResult("updateCharacter requires 3 args: bookID, charID, characterJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	var in characterJSON
	if err := json.Unmarshal([]byte(argString(args, 2)), &in); err != nil {
		return errorResult("invalid character json: " + err.Error())
	}
	changed, err := sess.UpdateCharacter(context.Background(), argString(args, 0), argInt64(args, 1), in.input())
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"changed": changed})
}

// setCharacterField commits one field on blur/Enter.
// Args: [bookID string, charID number, field string, value string]
func setCharacterField(this js.Value, args []js.Value) interface{} {
	if len(args) < 4 {
		return errorResult("setCharacterField requires 4 args: bookID, charID, field, value")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	field, err := session.ParseField(argString(args, 2))
	if err != nil {
		return errorResult(err.Error())
	}
	changed, err := sess.SetCharacterField(context.Background(), argString(args, 0), argInt64(args, 1), field, argString(args, 3))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"changed": changed})
}

// deleteCharacter Args: [bookID string, charID number]. Asks window.confirm first.
func deleteCharacter(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("deleteCharacter requires 2 args: bookID, charID")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	deleted, err := sess.DeleteCharacter(context.Background(), argString(args, 0), argInt64(args, 1), browserConfirm)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"deleted": deleted})
}

// =============================================================================
// Notes
// =============================================================================

func notes(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	return jsonResult(sess.Notes())
}

// board returns slim notes for the sticky-note board.
func board(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	return jsonResult(response.FromNotes(sess.Notes()))
}

// notesMentioning Args: [bookID string, charID number (optional)]
func notesMentioning(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	found, err := sess.NotesMentioning(argString(args, 0), argInt64(args, 1))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(found)
}

// addNote Args: [subject string, content string]
func addNote(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	n, err := sess.AddNote(context.Background(), argString(args, 0), argString(args, 1))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(n)
}

// updateNote Args: [id number, subject string, content string]
func updateNote(this js.Value, args []js.Value) interface{} {
	if len(args) < 3 {
		return errorResult("updateNote requires 3 args: id, subject, content")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	changed, err := sess.UpdateNote(context.Background(), argInt64(args, 0), argString(args, 1), argString(args, 2))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"changed": changed})
}

// setNoteColor Args: [id number, color string]
func setNoteColor(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("setNoteColor requires 2 args: id, color")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	changed, err := sess.SetNoteColor(context.Background(), argInt64(args, 0), store.NoteColor(argString(args, 1)))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"changed": changed})
}

// deleteNote Args: [id number]
func deleteNote(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	if err := sess.DeleteNote(context.Background(), argInt64(args, 0)); err != nil {
		return errorResult(err.Error())
	}
	return successResult("deleted")
}

// =============================================================================
// Images
// =============================================================================

// makePromise creates a JS Promise and returns it along with resolve/reject functions.
func makePromise() (promise js.Value, resolve js.Value, reject js.Value) {
	var resolveFn, rejectFn js.Value
	handler := js.FuncOf(func(this js.Value, args []js.Value) interface{} {
		resolveFn = args[0]
		rejectFn = args[1]
		return nil
	})
	defer handler.Release()

	promise = js.Global().Get("Promise").New(handler)
	return promise, resolveFn, rejectFn
}

// imageGenInit configures the image generation client.
// Args: [configJSON string] - {baseUrl, apiKey, model, size, maxAttempts}
func imageGenInit(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("imageGenInit: config JSON required")
	}
	var cfg struct {
		BaseURL     string `json:"baseUrl"`
		APIKey      string `json:"apiKey"`
		Model       string `json:"model"`
		Size        string `json:"size"`
		MaxAttempts uint   `json:"maxAttempts"`
	}
	if err := json.Unmarshal([]byte(argString(args, 0)), &cfg); err != nil {
		return errorResult(fmt.Sprintf("imageGenInit: invalid config: %v", err))
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-2"
	}
	if cfg.Size == "" {
		cfg.Size = "512x512"
	}

	if generator != nil {
		generator.Close()
	}
	generator = imagegen.NewClient(imagegen.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Size:        cfg.Size,
		MaxAttempts: cfg.MaxAttempts,
		Logger:      logger,
	})
	return jsonResult(map[string]interface{}{"success": true, "model": cfg.Model})
}

// generateImage asks the service for a portrait. Nothing is saved.
// Args: [bookID string, charID number]
// Returns: Promise<JSON> with {mime, dataUrl, revisedPrompt}
func generateImage(this js.Value, args []js.Value) interface{} {
	promise, resolve, reject := makePromise()
	if !ready() || generator == nil {
		reject.Invoke(errorResult("store or image generator not initialized"))
		return promise
	}
	bookID, charID := argString(args, 0), argInt64(args, 1)

	go func() {
		cand, err := sess.GenerateCharacterImage(context.Background(), generator, bookID, charID)
		if err != nil {
			reject.Invoke(errorResult(err.Error()))
			return
		}
		resolve.Invoke(jsonResult(map[string]interface{}{
			"mime":          cand.MIME,
			"dataUrl":       transfer.EncodeDataURL(cand.Bytes),
			"revisedPrompt": cand.RevisedPrompt,
		}))
	}()
	return promise
}

// saveImage stores an image for a character.
// Args: [charID number, data Uint8Array | dataURL string]
func saveImage(this js.Value, args []js.Value) interface{} {
	if len(args) < 2 {
		return errorResult("saveImage requires 2 args: charID, data")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	var blob []byte
	if args[1].Type() == js.TypeString {
		var err error
		if blob, err = transfer.DecodeDataURL(args[1].String()); err != nil {
			return errorResult("invalid data url: " + err.Error())
		}
	} else {
		blob = make([]byte, args[1].Get("length").Int())
		js.CopyBytesToGo(blob, args[1])
	}

	img, err := sess.SaveCharacterImage(context.Background(), argInt64(args, 0), blob)
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"imageId": img.ImageID, "createdAt": img.CreatedAt})
}

// characterImage Args: [charID number]
// Returns: {imageId, dataUrl} or null
func characterImage(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	img, ok := sess.CharacterImage(argInt64(args, 0))
	if !ok {
		return "null"
	}
	return jsonResult(map[string]interface{}{
		"imageId": img.ImageID,
		"dataUrl": transfer.EncodeDataURL(img.Blob),
	})
}

func purgeOrphanImages(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	n, err := sess.PurgeOrphanImages(context.Background())
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{"deleted": n})
}

// =============================================================================
// Export/Import
// =============================================================================

// exportJSON returns the export document as a string.
func exportJSON(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := sess.Export(context.Background(), buf); err != nil {
		return errorResult("export failed: " + err.Error())
	}
	fmt.Printf("[StoryKeep] ✅ Exported %d bytes\n", buf.Len())
	return buf.String()
}

// importJSON replaces books and images with the document.
// Args: [documentJSON string]
func importJSON(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("importJSON requires 1 arg: documentJSON")
	}
	if !ready() {
		return errorResult("store not initialized")
	}
	res, err := sess.Import(context.Background(), strings.NewReader(argString(args, 0)))
	if err != nil {
		return errorResult(err.Error())
	}
	return jsonResult(map[string]interface{}{
		"success":       true,
		"books":         len(res.Books),
		"images":        len(res.Images),
		"notesReplaced": res.NotesReplaced,
	})
}

// =============================================================================
// Store snapshot (OPFS Sync)
// =============================================================================

// storeExport serializes the whole store, notes included, to a Uint8Array.
// JS writes it to OPFS after each mutation and hands it back to storeImport
// after init on the next page load.
// Args: []
func storeExport(this js.Value, args []js.Value) interface{} {
	if !ready() {
		return errorResult("store not initialized")
	}
	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)
	if err := sess.Snapshot(context.Background(), buf); err != nil {
		return errorResult("snapshot failed: " + err.Error())
	}

	jsArray := js.Global().Get("Uint8Array").New(buf.Len())
	js.CopyBytesToJS(jsArray, buf.Bytes())
	return jsArray
}

// storeImport restores a snapshot written by storeExport.
// Args: [data Uint8Array]
func storeImport(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return errorResult("storeImport requires 1 arg: data (Uint8Array)")
	}
	if !ready() {
		return errorResult("store not initialized")
	}

	length := args[0].Get("length").Int()
	data := make([]byte, length)
	js.CopyBytesToGo(data, args[0])

	res, err := sess.Import(context.Background(), bytes.NewReader(data))
	if err != nil {
		return errorResult("restore failed: " + err.Error())
	}
	fmt.Printf("[StoryKeep] ✅ Restored %d books, %d notes from %d bytes\n", len(res.Books), len(res.Notes), length)
	return successResult(fmt.Sprintf("restored %d bytes", length))
}
