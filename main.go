package main

import (
	"bufio"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/antibyte/brainterm/pkg/auth"
	"github.com/antibyte/brainterm/pkg/brainfuck"
	"github.com/antibyte/brainterm/pkg/catalog"
	"github.com/antibyte/brainterm/pkg/configuration"
	"github.com/antibyte/brainterm/pkg/logger"
	"github.com/antibyte/brainterm/pkg/store"
	"github.com/antibyte/brainterm/pkg/terminal"
	tlsmanager "github.com/antibyte/brainterm/pkg/tls"
)

func main() {
	fs := flag.NewFlagSet("brainterm", flag.ContinueOnError)
	configPath := fs.String("config", "settings.cfg", "path to the configuration file")
	runPath := fs.String("run", "", "run a program file and exit instead of serving")
	inputPath := fs.String("input", "", "program input file for -run (default: stdin)")
	outputPath := fs.String("output", "", "program output file for -run (default: stdout)")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(64)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument %q\n", fs.Arg(0))
		fs.Usage()
		os.Exit(64)
	}
	if *runPath == "" && (*inputPath != "" || *outputPath != "") {
		fmt.Fprintln(os.Stderr, "error: -input and -output require -run")
		os.Exit(64)
	}

	if *runPath != "" {
		os.Exit(runProgramFile(*runPath, *inputPath, *outputPath))
	}

	serve(*configPath)
}

// runProgramFile führt ein Programm direkt auf der Kommandozeile aus, ohne
// einen Server zu starten.
func runProgramFile(sourcePath, inputPath, outputPath string) int {
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot read program: %v\n", err)
		return 66
	}

	var input io.Reader = os.Stdin
	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: cannot open input: %v\n", err)
			return 66
		}
		defer f.Close()
		input = f
	}

	var output io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: cannot create output: %v\n", err)
			return 1
		}
		defer f.Close()
		output = f
	}

	// Das Programm schreibt byteweise, deshalb gepuffert ausgeben
	buffered := bufio.NewWriter(output)
	interp := brainfuck.NewInterpreter(input, buffered)
	evalErr := interp.Eval(brainfuck.Lex(string(source)))
	if flushErr := buffered.Flush(); evalErr == nil {
		evalErr = flushErr
	}

	if evalErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", evalErr)
		return 1
	}
	return 0
}

// serve initialisiert alle Subsysteme und startet den Webserver
func serve(configPath string) {
	err := configuration.Initialize(configPath)
	if err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		return
	}

	// Initialize logger
	err = logger.Initialize()
	if err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		return
	}
	defer logger.Close()
	logger.ConfigInfo("System started - Configuration loaded from: %s", configPath)

	// Legacy log.Printf output (net/http, gorilla) goes to the debug log
	logFilePath := configuration.GetString("Debug", "log_file", "debug.log")
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		fmt.Printf("Error opening log file: %v\n", err)
		return
	}
	defer logFile.Close()

	if configuration.GetBool("Debug", "disable_legacy_logging", false) {
		log.SetOutput(io.Discard)
		fmt.Println("Legacy logging disabled. Using structured logging only.")
	} else {
		log.SetOutput(logFile)
		fmt.Printf("Log outputs are redirected to %s.\n", logFilePath)
		log.Printf("=== SERVER START %s ===", time.Now().Format("2006-01-02 15:04:05"))
	}

	// Database initialization
	dbPath := configuration.GetString("System", "database_file", "brainterm.db")
	db, err := store.InitDB(dbPath)
	if err != nil {
		logger.Fatal(logger.AreaDatabase, "Database initialization failed: %v", err)
	}
	defer db.Close()

	if err := store.CreateTables(db); err != nil {
		logger.Fatal(logger.AreaDatabase, "Table creation failed: %v", err)
	}
	st := store.New(db)
	logger.Info(logger.AreaDatabase, "Program store ready at %s", dbPath)

	// Example catalog. A missing catalog is not fatal, EXAMPLES and LOAD
	// simply have nothing to offer then.
	manifestPath := configuration.GetString("System", "examples_catalog", "examples/catalog.yaml")
	cat, err := catalog.Load(manifestPath)
	if err != nil {
		logger.Warn(logger.AreaCatalog, "Example catalog not loaded: %v", err)
		cat = nil
	}

	// Terminal handler with per-session shells
	handler := terminal.NewTerminalHandler(st, cat)
	logger.Info(logger.AreaTerminal, "TerminalHandler created (session-based shells)")

	// Wire the auth handlers to the store and the session registry
	auth.SetStore(st)
	auth.SetSessionResolver(handler)
	logger.Info(logger.AreaAuth, "Auth handlers wired to store and session registry")

	// Authentication API routes
	http.HandleFunc("/api/auth/session", auth.HandleCreateSession)
	http.HandleFunc("/api/auth/login", auth.HandleLogin)
	http.HandleFunc("/api/auth/register", auth.HandleRegister)
	http.HandleFunc("/api/auth/validate", auth.HandleTokenValidation)
	http.HandleFunc("/api/auth/logout", auth.HandleLogout)
	http.HandleFunc("/ws", handler.HandleWebSocket)

	// Add favicon handler to prevent 404 errors
	http.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	// Static file servers for directories
	http.Handle("/js/", http.StripPrefix("/js/", http.FileServer(http.Dir("js"))))
	http.Handle("/css/", http.StripPrefix("/css/", http.FileServer(http.Dir("css"))))

	// Root route - MUST be registered LAST to not override specific routes
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		// Production build first, development file as fallback
		if _, err := os.Stat("index.html"); err == nil {
			http.ServeFile(w, r, "index.html")
			return
		}
		if _, err := os.Stat("brainterm.html"); err == nil {
			http.ServeFile(w, r, "brainterm.html")
			return
		}
		logger.Error(logger.AreaGeneral, "Neither index.html nor brainterm.html found")
		http.Error(w, "Main HTML file not found", http.StatusNotFound)
	})

	// Initialize TLS Manager
	tlsManager, err := tlsmanager.NewTLSManager()
	if err != nil {
		logger.Fatal(logger.AreaSecurity, "TLS manager initialization failed: %v", err)
		return
	}

	// Start servers based on TLS configuration
	if tlsManager.IsEnabled() {
		startTLSServers(tlsManager)
	} else {
		startHTTPServer(tlsManager.GetHTTPPort())
	}
}

// startHTTPServer starts the HTTP server
func startHTTPServer(port string) {
	logger.Info(logger.AreaGeneral, "Starting HTTP server on port %s", port)

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		logger.Error(logger.AreaGeneral, "HTTP server startup failed: %v", err)
		log.Fatalf("Error starting HTTP server: %v", err)
	}
}

// startTLSServers starts both HTTP and HTTPS servers for TLS mode
func startTLSServers(tlsManager *tlsmanager.TLSManager) {
	httpPort := tlsManager.GetHTTPPort()
	httpsPort := tlsManager.GetHTTPSPort()

	logger.Info(logger.AreaSecurity, "Starting TLS-enabled servers - HTTP: %s, HTTPS: %s", httpPort, httpsPort)

	// Channel to receive errors from server goroutines
	errorChan := make(chan error, 2)

	// Start HTTP server for Let's Encrypt challenges and redirects (if needed)
	if tlsManager.NeedsHTTPServer() {
		go func() {
			httpHandler := tlsManager.GetHTTPHandler()
			if httpHandler == nil {
				// Use HTTPS redirect handler if no Let's Encrypt handler
				httpHandler = tlsManager.GetHTTPSRedirectHandler()
			}

			if httpHandler != nil {
				logger.Info(logger.AreaSecurity, "Starting HTTP server for Let's Encrypt challenges/redirects on port %s", httpPort)
				if err := http.ListenAndServe(":"+httpPort, httpHandler); err != nil {
					logger.Error(logger.AreaSecurity, "HTTP server error: %v", err)
					errorChan <- fmt.Errorf("HTTP server error: %v", err)
				}
			}
		}()
	}

	// Start HTTPS server
	go func() {
		httpsServer := &http.Server{
			Addr:      ":" + httpsPort,
			TLSConfig: tlsManager.GetTLSConfig(),
			Handler:   nil, // Use default mux with all registered handlers
		}

		logger.Info(logger.AreaSecurity, "Starting HTTPS server on port %s", httpsPort)

		var err error
		if tlsManager.GetTLSConfig() != nil {
			// Let's Encrypt mode
			logger.Info(logger.AreaSecurity, "HTTPS server using Let's Encrypt certificates")
			err = httpsServer.ListenAndServeTLS("", "")
		} else {
			// Manual certificate mode
			certFile, keyFile := tlsManager.GetCertFiles()
			logger.Info(logger.AreaSecurity, "HTTPS server using manual certificates: %s, %s", certFile, keyFile)
			err = httpsServer.ListenAndServeTLS(certFile, keyFile)
		}

		logger.Error(logger.AreaSecurity, "HTTPS server ListenAndServeTLS returned with error: %v", err)
		errorChan <- fmt.Errorf("HTTPS server stopped unexpectedly: %v", err)
	}()

	// Wait for either server to report an error
	select {
	case err := <-errorChan:
		logger.Fatal(logger.AreaSecurity, "Server startup failed: %v", err)
	case <-time.After(5 * time.Second):
		// If no errors after 5 seconds, consider startup successful
		logger.Info(logger.AreaSecurity, "TLS servers startup window completed - HTTP: %s, HTTPS: %s", httpPort, httpsPort)

		// Test HTTPS connectivity (only for manual TLS)
		go func() {
			time.Sleep(1 * time.Second) // Give server a moment to fully bind

			if tlsManager.GetTLSConfig() != nil {
				logger.Info(logger.AreaSecurity, "HTTPS server ready with Let's Encrypt certificates for domain: %s", tlsManager.GetDomain())
				return
			}

			testURL := fmt.Sprintf("https://localhost:%s/", httpsPort)
			client := &http.Client{
				Timeout: 10 * time.Second,
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // Self-signed dev certs
				},
			}

			resp, err := client.Get(testURL)
			if err != nil {
				logger.Warn(logger.AreaSecurity, "HTTPS connectivity test failed: %v", err)
			} else {
				resp.Body.Close()
				logger.Info(logger.AreaSecurity, "HTTPS connectivity test successful (status: %s)", resp.Status)
			}
		}()

		// Now wait indefinitely for errors (blocking the main thread)
		for {
			err := <-errorChan
			logger.Error(logger.AreaSecurity, "Server error during runtime: %v", err)
		}
	}
}
