package shell

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	ftp "github.com/gonzalop/miniftp"
)

// command is one interactive command. Argument counts outside
// [min, max] are rejected before run is called.
type command struct {
	name     string
	min, max int
	usage    string
	help     string
	needConn bool
	run      func(*Shell, []string) error
}

var commands []*command

func init() {
	// Assigned here because help reads the table.
	commands = []*command{
		{name: "open", max: 2, usage: "open hostname [ port ]", help: "connect to a server and log in", run: (*Shell).open},
		{name: "user", max: 1, usage: "user username", help: "log in again", needConn: true, run: (*Shell).user},
		{name: "cd", max: 1, usage: "cd remote-directory", help: "change the remote directory", needConn: true, run: (*Shell).cd},
		{name: "ls", max: 1, usage: "ls [ remote-directory ]", help: "list a remote directory", needConn: true, run: (*Shell).ls},
		{name: "put", max: 2, usage: "put local-file [ remote-file ]", help: "upload a file", needConn: true, run: (*Shell).put},
		{name: "get", max: 2, usage: "get remote-file [ local-file ]", help: "download a file", needConn: true, run: (*Shell).get},
		{name: "pwd", usage: "pwd", help: "print the remote directory", needConn: true, run: (*Shell).pwd},
		{name: "mkdir", max: 1, usage: "mkdir directory-name", help: "make a remote directory", needConn: true, run: (*Shell).mkdir},
		{name: "rmdir", max: 1, usage: "rmdir directory-name", help: "remove a remote directory", needConn: true, run: (*Shell).rmdir},
		{name: "del", max: 1, usage: "del remote-file", help: "delete a remote file", needConn: true, run: (*Shell).del},
		{name: "rename", max: 2, usage: "rename from-name [ to-name ]", help: "rename a remote file", needConn: true, run: (*Shell).rename},
		{name: "binary", usage: "binary", help: "set binary transfer type", needConn: true, run: (*Shell).binary},
		{name: "ascii", usage: "ascii", help: "set ASCII transfer type", needConn: true, run: (*Shell).ascii},
		{name: "size", max: 1, usage: "size remote-file", help: "show the size of a remote file", needConn: true, run: (*Shell).size},
		{name: "stat", max: 1, usage: "stat [ remote-file ]", help: "show session or file status", needConn: true, run: (*Shell).stat},
		{name: "syst", usage: "syst", help: "show the remote system type", needConn: true, run: (*Shell).syst},
		{name: "noop", usage: "noop", help: "do nothing", needConn: true, run: (*Shell).noop},
		{name: "close", usage: "close", help: "end the session", needConn: true, run: (*Shell).closeCmd},
		{name: "help", max: 1, usage: "help [ command ]", help: "describe commands", run: (*Shell).help},
		{name: "exit", usage: "exit", help: "close the session and leave", run: (*Shell).exit},
		{name: "quit", usage: "quit", help: "same as exit", run: (*Shell).exit},
	}
}

func lookup(name string) (*command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return nil, false
}

func (s *Shell) open(args []string) error {
	if s.client != nil {
		return fmt.Errorf("already connected to %s, use close first", s.host)
	}

	host, err := s.require(args, 0, "(to) ")
	if err != nil {
		return err
	}
	port := optional(args, 1, ftp.DefaultPort)
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port number %q", port)
	}

	options := append([]ftp.Option{ftp.WithLogger(s.logger)}, s.clientOptions...)
	options = append(options, ftp.WithResponseHook(s.showReply))
	c, err := ftp.Dial(net.JoinHostPort(host, port), options...)
	if err != nil {
		return err
	}
	s.client = c
	s.host = host
	s.printf("Connected to %s.\n", host)

	return s.login("")
}

func (s *Shell) user(args []string) error {
	return s.login(optional(args, 0, ""))
}

// login asks for whatever is missing and logs in, then selects binary
// transfers.
func (s *Shell) login(name string) error {
	if name == "" {
		answer, err := s.prompter.Input("(username) ")
		if err != nil {
			return err
		}
		name = answer
	}
	if name == "" {
		return errMissingArg
	}
	pass, err := s.prompter.Password("Password: ")
	if err != nil {
		return err
	}

	if err := s.client.Login(name, pass); err != nil {
		var protoErr *ftp.ProtocolError
		if errors.As(err, &protoErr) {
			s.palette.fail.Fprintln(s.out, "Login failed.")
		}
		return err
	}
	return s.setType("I")
}

func (s *Shell) cd(args []string) error {
	dir, err := s.require(args, 0, "(remote-directory) ")
	if err != nil {
		return err
	}
	return s.client.ChangeDir(dir)
}

func (s *Shell) ls(args []string) error {
	_, err := s.client.RawList(optional(args, 0, ""), s.out)
	return err
}

func (s *Shell) put(args []string) error {
	local, err := s.require(args, 0, "(local-file) ")
	if err != nil {
		return err
	}
	remote := optional(args, 1, filepath.Base(local))

	file, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("local: %w", err)
	}
	defer file.Close()

	s.printf("local: %s remote: %s\n", local, remote)
	start := time.Now()
	n, err := s.client.Store(remote, file)
	if err != nil {
		return err
	}
	s.rate(n, "sent", time.Since(start))
	return nil
}

func (s *Shell) get(args []string) error {
	remote, err := s.require(args, 0, "(remote-file) ")
	if err != nil {
		return err
	}
	local := optional(args, 1, path.Base(remote))

	s.printf("local: %s remote: %s\n", local, remote)
	start := time.Now()
	n, err := s.client.RetrieveTo(remote, local)
	if err != nil {
		return err
	}
	s.rate(n, "received", time.Since(start))
	return nil
}

func (s *Shell) pwd(_ []string) error {
	_, err := s.client.CurrentDir()
	return err
}

func (s *Shell) mkdir(args []string) error {
	dir, err := s.require(args, 0, "(directory-name) ")
	if err != nil {
		return err
	}
	return s.client.MakeDir(dir)
}

func (s *Shell) rmdir(args []string) error {
	dir, err := s.require(args, 0, "(directory-name) ")
	if err != nil {
		return err
	}
	return s.client.RemoveDir(dir)
}

func (s *Shell) del(args []string) error {
	file, err := s.require(args, 0, "(remote-file) ")
	if err != nil {
		return err
	}
	return s.client.Delete(file)
}

func (s *Shell) rename(args []string) error {
	from, err := s.require(args, 0, "(from-name) ")
	if err != nil {
		return err
	}
	to, err := s.require(args, 1, "(to-name) ")
	if err != nil {
		return err
	}
	return s.client.Rename(from, to)
}

func (s *Shell) binary(_ []string) error {
	return s.setType("I")
}

func (s *Shell) ascii(_ []string) error {
	return s.setType("A")
}

// setType switches the transfer type. The client skips TYPE when the
// type is already current; the shell still confirms it.
func (s *Shell) setType(t string) error {
	before := s.replies
	if err := s.client.Type(t); err != nil {
		return err
	}
	if s.replies == before {
		s.printf("Type set to %s.\n", t)
	}
	return nil
}

func (s *Shell) size(args []string) error {
	file, err := s.require(args, 0, "(remote-file) ")
	if err != nil {
		return err
	}
	_, err = s.client.Size(file)
	return err
}

func (s *Shell) stat(args []string) error {
	_, err := s.client.Status(optional(args, 0, ""))
	return err
}

func (s *Shell) syst(_ []string) error {
	_, err := s.client.Syst()
	return err
}

func (s *Shell) noop(_ []string) error {
	return s.client.Noop()
}

func (s *Shell) closeCmd(_ []string) error {
	return s.Close()
}

func (s *Shell) exit(_ []string) error {
	if err := s.Close(); err != nil {
		s.logger.Debug("quit failed", "error", err)
	}
	return ErrExit
}

func (s *Shell) help(args []string) error {
	if len(args) == 0 {
		return renderHelp(s.out, commands)
	}
	c, ok := lookup(args[0])
	if !ok {
		s.printf("?Invalid help command %s\n", args[0])
		return nil
	}
	s.printf("%-8s%s\n", c.name, c.help)
	s.printf("usage: %s\n", c.usage)
	return nil
}
