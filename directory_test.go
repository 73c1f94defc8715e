package ftp

import (
	"testing"
)

func TestParseListLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		line           string
		expectedName   string
		expectedType   string
		expectedSize   int64
		expectedTarget string
	}{
		{
			name:         "unix directory entry",
			line:         "drw-rw-rw-   1 root  root         0 Sep 24 2024 logger",
			expectedName: "logger",
			expectedType: "dir",
			expectedSize: 0,
		},
		{
			name:         "unix file with size",
			line:         "-rw-rw-rw-   1 root  root   1037794 Dec 14 12:22 large-document.pdf",
			expectedName: "large-document.pdf",
			expectedType: "file",
			expectedSize: 1037794,
		},
		{
			name:         "single spaced server output",
			line:         "-rw-r--r-- 1 owner group 616300 Oct 25 01:18 archive-data.zip",
			expectedName: "archive-data.zip",
			expectedType: "file",
			expectedSize: 616300,
		},
		{
			name:         "year stamp",
			line:         "-rw-r--r-- 1 owner group 16 Dec 15  2019 verify_job",
			expectedName: "verify_job",
			expectedType: "file",
			expectedSize: 16,
		},
		{
			name:         "name with spaces",
			line:         "-rw-r--r-- 1 owner group 5 Jan 02 15:04 my  document.txt",
			expectedName: "my  document.txt",
			expectedType: "file",
			expectedSize: 5,
		},
		{
			name:           "unix symlink",
			line:           "lrwxrwxrwx   1 root  root        11 Dec 20 10:30 link -> target.txt",
			expectedName:   "link",
			expectedType:   "link",
			expectedSize:   11,
			expectedTarget: "target.txt",
		},
		{
			name:           "unix symlink with path",
			line:           "lrwxrwxrwx   1 root  root        20 Dec 20 10:30 mylink -> /usr/bin/python3",
			expectedName:   "mylink",
			expectedType:   "link",
			expectedSize:   20,
			expectedTarget: "/usr/bin/python3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := parseListLine(tt.line)
			if entry == nil {
				t.Fatal("parseListLine returned nil")
			}

			if entry.Name != tt.expectedName {
				t.Errorf("Name = %q, want %q", entry.Name, tt.expectedName)
			}
			if entry.Type != tt.expectedType {
				t.Errorf("Type = %q, want %q", entry.Type, tt.expectedType)
			}
			if entry.Size != tt.expectedSize {
				t.Errorf("Size = %d, want %d", entry.Size, tt.expectedSize)
			}
			if entry.Target != tt.expectedTarget {
				t.Errorf("Target = %q, want %q", entry.Target, tt.expectedTarget)
			}
			if entry.Raw != tt.line {
				t.Errorf("Raw = %q, want %q", entry.Raw, tt.line)
			}
		})
	}
}

func TestParseListLine_Rejects(t *testing.T) {
	t.Parallel()
	for _, line := range []string{
		"",
		"total 8",
		"+s2048,r eplf.txt",
		"12-14-24  12:22PM  1037794 dos.pdf",
		"-rw-r--r-- 1 owner group big Jan 02 15:04 name",
		"-rw-r--r-- 1 owner group 5 Jan 02 15:04",
	} {
		if entry := parseListLine(line); entry != nil {
			t.Errorf("parseListLine(%q) = %+v, want nil", line, entry)
		}
	}
}

func TestParseQuotedPath(t *testing.T) {
	t.Parallel()
	tests := []struct {
		msg     string
		want    string
		wantErr bool
	}{
		{`"/" is the current directory.`, "/", false},
		{`"/home/user" is the current directory.`, "/home/user", false},
		{`"/odd""name" created.`, `/odd"name`, false},
		{`no quotes here`, "", true},
		{`"/unterminated`, "", true},
	}

	for _, tt := range tests {
		got, err := parseQuotedPath(tt.msg)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseQuotedPath(%q) error = %v, wantErr %v", tt.msg, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseQuotedPath(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}
