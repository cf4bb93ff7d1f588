/*
Package templating provides a filesystem-based Go template engine for the
resume generator's pages.

Pages are *.tmpl.html files and shared fragments are *.part.html files, both
read from a single template directory. The engine can re-parse the set when a
file changes (AutoReload) and can keep rendered output in a SQLite-backed
RenderCache stored in a cache directory. Whether that directory is usable is
decided once at startup by ResolveCacheDir, which falls back to rendering
every page live when the directory cannot be created or written.
*/
package templating
